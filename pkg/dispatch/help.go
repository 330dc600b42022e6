package dispatch

import (
	"fmt"
	"sort"
	"strings"
)

// HelpOverview lists every command. keyword is the configured DELETE
// confirmation token.
func HelpOverview(keyword string) string {
	return fmt.Sprintf(`Available commands:
  LIST <path>              list a folder
  SUMMARY <path>           summarize the documents in a folder or a single file
  MOVE <source> <dest>     move or rename an item
  DELETE <path> %s    delete an item (requires %s)
  HELP [topic]             show help for a command

Paths start with /. Quote paths that contain spaces: LIST "/My Files"`, keyword, keyword)
}

var helpTopics = map[string]string{
	"list": `LIST <path>
Shows the folders and files directly under <path>, folders first.
Listing a file shows just that file.`,
	"summary": `SUMMARY <path>
Summarizes each text document under <path>, or the single file at <path>.
Documents that cannot be read are reported individually.`,
	"move": `MOVE <source> <destination>
Moves <source> to <destination>. If <destination> is an existing folder the
item keeps its name inside it. A folder cannot be moved into itself.`,
	"delete": `DELETE <path> %[1]s
Deletes <path>. Without the trailing %[1]s nothing is deleted and you are
asked to confirm. The drive root cannot be deleted.`,
	"help": `HELP [topic]
Shows the command overview, or details for one of: %[2]s.`,
}

// HelpTopic returns the help text for topic, reporting false when the topic
// is unknown.
func HelpTopic(keyword, topic string) (string, bool) {
	text, ok := helpTopics[strings.ToLower(strings.TrimSpace(topic))]
	if !ok {
		return "", false
	}
	if strings.Contains(text, "%[") {
		text = fmt.Sprintf(text, keyword, strings.Join(HelpTopicNames(), ", "))
	}
	return text, true
}

func HelpTopicNames() []string {
	names := make([]string, 0, len(helpTopics))
	for name := range helpTopics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
