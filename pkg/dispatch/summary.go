package dispatch

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/command"
	"github.com/sipeed/driveclaw/pkg/drive"
)

const (
	noDocumentsNote = "No summarizable documents found."
	partialNote     = "(partial: only the beginning of the document was read)"
)

func (d *Dispatcher) summary(ctx context.Context, c command.Summary) Outcome {
	entries, err := capability.Do(ctx, d.caller, "drive.list", func(ctx context.Context) ([]drive.Entry, error) {
		return d.drive.List(ctx, c.Path)
	})
	if err != nil {
		return failure(command.OpSummary, c.Path, err)
	}

	var docs []drive.Entry
	for _, e := range entries {
		if drive.IsDocument(e) {
			docs = append(docs, e)
		}
	}
	if len(docs) == 0 {
		return Success{Op: command.OpSummary, Path: c.Path, Note: noDocumentsNote}
	}

	// Each goroutine owns one slot, so results keep listing order no matter
	// which document finishes first.
	results := make([]DocumentSummary, len(docs))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, doc := range docs {
		if ctx.Err() != nil {
			results[i] = skipped(doc)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = skipped(doc)
				return nil
			}
			results[i] = d.summarizeOne(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()

	var (
		ok       int
		firstErr *DocumentSummary
		texts    []string
	)
	for i := range results {
		switch results[i].Status {
		case DocOK:
			ok++
			text := results[i].Name + ": " + results[i].Summary
			if results[i].Partial {
				text += " " + partialNote
			}
			texts = append(texts, text)
		case DocFailed:
			if firstErr == nil {
				firstErr = &results[i]
			}
		}
	}
	if ok == 0 && firstErr != nil {
		return CapabilityError{
			Op:     command.OpSummary,
			Kind:   firstErr.Kind,
			Detail: ErrorText(firstErr.Kind),
			Cause:  &summaryError{path: firstErr.Path, detail: firstErr.Detail},
		}
	}

	return Success{
		Op:            command.OpSummary,
		Path:          c.Path,
		Text:          strings.Join(texts, "\n\n"),
		ItemsAffected: ok,
		Documents:     results,
	}
}

func (d *Dispatcher) summarizeOne(ctx context.Context, doc drive.Entry) DocumentSummary {
	res := DocumentSummary{Name: doc.Name, Path: doc.Path}

	content, err := capability.Do(ctx, d.caller, "drive.read", func(ctx context.Context) (drive.Content, error) {
		return d.drive.Read(ctx, doc.Path)
	})
	if err != nil {
		return docFailed(res, err)
	}
	mimeType := content.MimeType
	if mimeType == "" {
		mimeType = doc.MimeType
	}

	text, err := capability.Do(ctx, d.caller, "summarizer.summarize", func(ctx context.Context) (string, error) {
		return d.summarizer.Summarize(ctx, content.Data, mimeType)
	})
	if err != nil {
		return docFailed(res, err)
	}
	res.Summary = text
	res.Status = DocOK
	res.Partial = content.Truncated
	return res
}

func docFailed(res DocumentSummary, err error) DocumentSummary {
	res.Status = DocFailed
	res.Kind = capability.KindOf(err)
	if capability.IsNotFound(err) {
		res.Kind = capability.KindUnavailable
	}
	res.Detail = err.Error()
	return res
}

func skipped(doc drive.Entry) DocumentSummary {
	return DocumentSummary{Name: doc.Name, Path: doc.Path, Status: DocSkipped}
}

type summaryError struct {
	path   string
	detail string
}

func (e *summaryError) Error() string {
	return "all documents failed; first " + e.path + ": " + e.detail
}
