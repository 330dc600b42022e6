package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sipeed/driveclaw/pkg/capability"
	"github.com/sipeed/driveclaw/pkg/logger"
)

const (
	googleDriveAPI     = "https://www.googleapis.com/drive/v3"
	googleAuthURL      = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL     = "https://oauth2.googleapis.com/token"
	googleFolderMime   = "application/vnd.google-apps.folder"
	googleScopeDrive   = "https://www.googleapis.com/auth/drive"
	googleFileFields   = "id,name,mimeType,size,modifiedTime,parents"
	googleListPageSize = 200
)

// GoogleDriveOptions configures the Google Drive backend. The refresh token
// comes from an OAuth consent done outside driveclaw.
type GoogleDriveOptions struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	RootFolderID    string
	PermanentDelete bool
	BaseURL         string
	HTTPClient      *http.Client
	MaxReadBytes    int64
}

// GoogleDrive implements Drive on the Drive v3 REST API. Paths are resolved
// segment by segment from the root folder by name.
type GoogleDrive struct {
	client          *http.Client
	baseURL         string
	rootID          string
	permanentDelete bool
	maxReadBytes    int64
}

type gdFile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	Size         string   `json:"size"`
	ModifiedTime string   `json:"modifiedTime"`
	Parents      []string `json:"parents"`
}

type gdFileList struct {
	Files         []gdFile `json:"files"`
	NextPageToken string   `json:"nextPageToken"`
}

type gdErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func NewGoogleDrive(ctx context.Context, opts GoogleDriveOptions) (*GoogleDrive, error) {
	client := opts.HTTPClient
	if client == nil {
		if opts.RefreshToken == "" {
			return nil, errors.New("google drive refresh token is required")
		}
		conf := &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  googleAuthURL,
				TokenURL: googleTokenURL,
			},
			Scopes: []string{googleScopeDrive},
		}
		client = conf.Client(context.WithoutCancel(ctx), &oauth2.Token{RefreshToken: opts.RefreshToken})
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = googleDriveAPI
	}
	rootID := opts.RootFolderID
	if rootID == "" {
		rootID = "root"
	}
	maxRead := opts.MaxReadBytes
	if maxRead <= 0 {
		maxRead = defaultMaxReadBytes
	}
	return &GoogleDrive{
		client:          client,
		baseURL:         baseURL,
		rootID:          rootID,
		permanentDelete: opts.PermanentDelete,
		maxReadBytes:    maxRead,
	}, nil
}

func splitDrivePath(p string) []string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// resolve walks p from the root folder and returns the file it names.
func (g *GoogleDrive) resolve(ctx context.Context, op, p string) (gdFile, error) {
	current := gdFile{ID: g.rootID, MimeType: googleFolderMime, Name: "/"}
	for _, seg := range splitDrivePath(p) {
		if seg == "." || seg == ".." {
			return gdFile{}, capability.Permission(op, fmt.Errorf("relative segment %q in %s", seg, p))
		}
		q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false", escapeQuery(current.ID), escapeQuery(seg))
		list, err := g.listQuery(ctx, op, q, "", 2)
		if err != nil {
			return gdFile{}, err
		}
		if len(list.Files) == 0 {
			return gdFile{}, capability.NotFound(p)
		}
		if len(list.Files) > 1 {
			logger.WarnCF("gdrive", "Ambiguous path segment, using first match", map[string]interface{}{
				"path":    p,
				"segment": seg,
			})
		}
		current = list.Files[0]
	}
	return current, nil
}

func (g *GoogleDrive) listQuery(ctx context.Context, op, q, pageToken string, pageSize int) (gdFileList, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "nextPageToken,files("+googleFileFields+")")
	params.Set("pageSize", strconv.Itoa(pageSize))
	params.Set("orderBy", "folder,name")
	params.Set("supportsAllDrives", "true")
	params.Set("includeItemsFromAllDrives", "true")
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	var out gdFileList
	err := g.doJSON(ctx, op, http.MethodGet, "/files?"+params.Encode(), nil, &out, "")
	return out, err
}

func (g *GoogleDrive) List(ctx context.Context, p string) ([]Entry, error) {
	const op = "drive.list"
	target, err := g.resolve(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if target.MimeType != googleFolderMime {
		return []Entry{g.entryFor(parentPath(p), target)}, nil
	}

	var entries []Entry
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(target.ID))
	pageToken := ""
	for {
		list, err := g.listQuery(ctx, op, q, pageToken, googleListPageSize)
		if err != nil {
			return nil, err
		}
		for _, f := range list.Files {
			entries = append(entries, g.entryFor(p, f))
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return entries, nil
}

func (g *GoogleDrive) entryFor(parent string, f gdFile) Entry {
	e := Entry{
		Name:     f.Name,
		Path:     Join(parent, f.Name),
		MimeType: f.MimeType,
		Type:     TypeFile,
	}
	if f.MimeType == googleFolderMime {
		e.Type = TypeFolder
		e.MimeType = ""
	}
	if f.Size != "" {
		e.Size, _ = strconv.ParseInt(f.Size, 10, 64)
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		e.ModifiedAt = t.UTC()
	}
	return e
}

// Delete moves the file to the Drive trash unless permanent deletion is
// configured.
func (g *GoogleDrive) Delete(ctx context.Context, p string) error {
	const op = "drive.delete"
	if len(splitDrivePath(p)) == 0 {
		return capability.Permission(op, errors.New("refusing to delete the drive root"))
	}
	target, err := g.resolve(ctx, op, p)
	if err != nil {
		return err
	}
	path := "/files/" + url.PathEscape(target.ID) + "?supportsAllDrives=true"
	if g.permanentDelete {
		return g.doJSON(ctx, op, http.MethodDelete, path, nil, nil, p)
	}
	return g.doJSON(ctx, op, http.MethodPatch, path, map[string]any{"trashed": true}, nil, p)
}

func (g *GoogleDrive) Move(ctx context.Context, source, destination string) error {
	const op = "drive.move"
	if len(splitDrivePath(source)) == 0 {
		return capability.Permission(op, errors.New("refusing to move the drive root"))
	}
	src, err := g.resolve(ctx, op, source)
	if err != nil {
		return err
	}

	newParent := ""
	newName := ""
	dst, err := g.resolve(ctx, op, destination)
	switch {
	case err == nil && dst.MimeType == googleFolderMime:
		newParent = dst.ID
		if _, err := g.resolve(ctx, op, Join(destination, src.Name)); err == nil {
			return fmt.Errorf("%s: %w", Join(destination, src.Name), capability.ErrConflict)
		} else if !capability.IsNotFound(err) {
			return err
		}
	case err == nil:
		return fmt.Errorf("%s: %w", destination, capability.ErrConflict)
	case capability.IsNotFound(err):
		parent, perr := g.resolve(ctx, op, parentPath(destination))
		if perr != nil {
			if capability.IsNotFound(perr) {
				return capability.NotFound(parentPath(destination))
			}
			return perr
		}
		if parent.MimeType != googleFolderMime {
			return fmt.Errorf("%s: %w", parentPath(destination), capability.ErrConflict)
		}
		newParent = parent.ID
		newName = baseName(destination)
	default:
		return err
	}

	params := url.Values{}
	params.Set("supportsAllDrives", "true")
	params.Set("addParents", newParent)
	params.Set("removeParents", strings.Join(src.Parents, ","))
	params.Set("fields", "id,parents")
	var body map[string]any
	if newName != "" && newName != src.Name {
		body = map[string]any{"name": newName}
	}
	return g.doJSON(ctx, op, http.MethodPatch, "/files/"+url.PathEscape(src.ID)+"?"+params.Encode(), body, nil, source)
}

func (g *GoogleDrive) Read(ctx context.Context, p string) (Content, error) {
	const op = "drive.read"
	target, err := g.resolve(ctx, op, p)
	if err != nil {
		return Content{}, err
	}
	if target.MimeType == googleFolderMime {
		return Content{}, capability.Unavailable(op, fmt.Errorf("%s is a folder", p))
	}

	var reqPath, mimeType string
	if nativeDocumentTypes[target.MimeType] {
		exportType := "text/plain"
		if target.MimeType == "application/vnd.google-apps.spreadsheet" {
			exportType = "text/csv"
		}
		reqPath = "/files/" + url.PathEscape(target.ID) + "/export?mimeType=" + url.QueryEscape(exportType)
		mimeType = exportType
	} else {
		reqPath = "/files/" + url.PathEscape(target.ID) + "?alt=media&supportsAllDrives=true"
		mimeType = target.MimeType
	}

	resp, err := g.do(ctx, op, http.MethodGet, reqPath, nil, p)
	if err != nil {
		return Content{}, err
	}
	defer resp.Body.Close()
	data, truncated, err := readCapped(resp.Body, g.maxReadBytes)
	if err != nil {
		return Content{}, capability.Transient(op, err)
	}
	return Content{Data: data, MimeType: mimeType, Truncated: truncated}, nil
}

func (g *GoogleDrive) doJSON(ctx context.Context, op, method, path string, body any, out any, notFoundPath string) error {
	resp, err := g.do(ctx, op, method, path, body, notFoundPath)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return capability.Unavailable(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (g *GoogleDrive) do(ctx context.Context, op, method, path string, body any, notFoundPath string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, capability.Unavailable(op, fmt.Errorf("marshal request: %w", err))
		}
		reader = strings.NewReader(string(payload))
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, capability.Unavailable(op, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &capability.Error{Kind: capability.KindOf(err), Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, classifyGoogleError(op, resp, notFoundPath)
}

func classifyGoogleError(op string, resp *http.Response, notFoundPath string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var parsed gdErrorBody
	_ = json.Unmarshal(raw, &parsed)

	msg := parsed.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	apiErr := fmt.Errorf("google drive %s: %s", resp.Status, msg)

	if resp.StatusCode == http.StatusNotFound && notFoundPath != "" {
		return capability.NotFound(notFoundPath)
	}
	if resp.StatusCode == http.StatusForbidden {
		for _, e := range parsed.Error.Errors {
			switch e.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "backendError":
				return capability.Transient(op, apiErr)
			}
		}
	}
	return capability.ClassifyHTTPStatus(op, resp.StatusCode, apiErr)
}

func parentPath(p string) string {
	parts := splitDrivePath(p)
	if len(parts) <= 1 {
		return "/"
	}
	return "/" + strings.Join(parts[:len(parts)-1], "/")
}

func baseName(p string) string {
	parts := splitDrivePath(p)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
