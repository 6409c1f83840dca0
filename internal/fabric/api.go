package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strings"
)

// maxListPages bounds continuation-token pagination on list endpoints.
const maxListPages = 20

// ItemTypeEnvironment is the item type used when creating environments.
const ItemTypeEnvironment = "Environment"

// Workspace is an entry of GET /workspaces.
type Workspace struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type,omitempty"`
}

// Environment is an entry of GET /workspaces/{ws}/environments.
type Environment struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// CreateItemRequest is the payload of POST /workspaces/{ws}/items.
type CreateItemRequest struct {
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Item is the response of an item creation.
type Item struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	DisplayName string `json:"displayName,omitempty"`
	Type        string `json:"type,omitempty"`
}

// PublishDetails describes the latest publish operation of an environment.
type PublishDetails struct {
	State         string `json:"state"`
	TargetVersion string `json:"targetVersion,omitempty"`
	StartTime     string `json:"startTime,omitempty"`
	EndTime       string `json:"endTime,omitempty"`
}

// EnvironmentProperties holds the environment's publish information.
type EnvironmentProperties struct {
	PublishDetails PublishDetails `json:"publishDetails"`
}

// EnvironmentMetadata is the response of GET /workspaces/{ws}/environments/{env}.
type EnvironmentMetadata struct {
	ID          string                `json:"id"`
	DisplayName string                `json:"displayName"`
	WorkspaceID string                `json:"workspaceId,omitempty"`
	Properties  EnvironmentProperties `json:"properties"`
}

// PublishState returns the raw publish state, empty when the service reported none.
func (m EnvironmentMetadata) PublishState() string {
	return m.Properties.PublishDetails.State
}

// CustomLibraries lists the custom files known to an environment.
type CustomLibraries struct {
	WheelFiles []string `json:"wheelFiles,omitempty"`
	PyFiles    []string `json:"pyFiles,omitempty"`
	JarFiles   []string `json:"jarFiles,omitempty"`
	RTarFiles  []string `json:"rTarFiles,omitempty"`
}

// Libraries is the response of the published and staging library listings.
type Libraries struct {
	CustomLibraries CustomLibraries `json:"customLibraries"`
	EnvironmentYml  string          `json:"environmentYml,omitempty"`
}

// Empty reports whether the listing carries no libraries at all.
func (l Libraries) Empty() bool {
	c := l.CustomLibraries
	return len(c.WheelFiles) == 0 && len(c.PyFiles) == 0 && len(c.JarFiles) == 0 &&
		len(c.RTarFiles) == 0 && strings.TrimSpace(l.EnvironmentYml) == ""
}

type listResponse[T any] struct {
	Value             []T    `json:"value"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

func listAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	next := path
	for page := 0; page < maxListPages && next != ""; page++ {
		var resp listResponse[T]
		if err := c.Get(ctx, next, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Value...)
		next = ""
		if resp.ContinuationToken != "" {
			next = path + "?continuationToken=" + url.QueryEscape(resp.ContinuationToken)
		}
	}
	return all, nil
}

func environmentPath(workspaceID, environmentID string) string {
	return fmt.Sprintf("/workspaces/%s/environments/%s", url.PathEscape(workspaceID), url.PathEscape(environmentID))
}

// ListWorkspaces returns every workspace visible to the token.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	return listAll[Workspace](ctx, c, "/workspaces")
}

// ListEnvironments returns the environments of a workspace.
func (c *Client) ListEnvironments(ctx context.Context, workspaceID string) ([]Environment, error) {
	return listAll[Environment](ctx, c, fmt.Sprintf("/workspaces/%s/environments", url.PathEscape(workspaceID)))
}

// CreateEnvironment creates an Environment item in the workspace.
func (c *Client) CreateEnvironment(ctx context.Context, workspaceID string, req CreateItemRequest) (Item, error) {
	if req.Type == "" {
		req.Type = ItemTypeEnvironment
	}
	var item Item
	err := c.Post(ctx, fmt.Sprintf("/workspaces/%s/items", url.PathEscape(workspaceID)), req, &item)
	return item, err
}

// GetEnvironment fetches the environment metadata, including publish state.
func (c *Client) GetEnvironment(ctx context.Context, workspaceID, environmentID string) (EnvironmentMetadata, error) {
	var meta EnvironmentMetadata
	err := c.Get(ctx, environmentPath(workspaceID, environmentID), &meta)
	return meta, err
}

// GetLibraries lists the published libraries of an environment.
func (c *Client) GetLibraries(ctx context.Context, workspaceID, environmentID string) (Libraries, error) {
	var libs Libraries
	err := c.Get(ctx, environmentPath(workspaceID, environmentID)+"/libraries", &libs)
	return libs, err
}

// GetStagingLibraries lists the libraries pending in staging.
func (c *Client) GetStagingLibraries(ctx context.Context, workspaceID, environmentID string) (Libraries, error) {
	var libs Libraries
	err := c.Get(ctx, environmentPath(workspaceID, environmentID)+"/staging/libraries", &libs)
	return libs, err
}

// UploadStagingLibrary uploads a wheel to staging as a multipart file named
// after the basename of filename.
func (c *Client) UploadStagingLibrary(ctx context.Context, workspaceID, environmentID, filename string, content io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(filename), err)
	}
	if err := mw.Close(); err != nil {
		return err
	}
	path := environmentPath(workspaceID, environmentID) + "/staging/libraries"
	return c.do(ctx, MethodPost, path, &buf, mw.FormDataContentType(), nil)
}

// DeleteStagingLibrary removes a library file from staging.
func (c *Client) DeleteStagingLibrary(ctx context.Context, workspaceID, environmentID, library string) error {
	q := url.Values{"libraryToDelete": []string{library}}
	return c.Delete(ctx, environmentPath(workspaceID, environmentID)+"/staging/libraries?"+q.Encode(), nil)
}

// PublishStaging starts the asynchronous publish of staged changes.
func (c *Client) PublishStaging(ctx context.Context, workspaceID, environmentID string) error {
	return c.Post(ctx, environmentPath(workspaceID, environmentID)+"/staging/publish", json.RawMessage(`{}`), nil)
}
