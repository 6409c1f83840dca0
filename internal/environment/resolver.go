package environment

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/k8ika0s/fabric-env-publisher/internal/fabric"
)

// DefaultDescription is the description given to environments created by the tool.
const DefaultDescription = "Default environment for DWH settings in Microsoft Fabric"

// ErrNotFound matches every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a display name that could not be resolved. Cause is
// nil when the listing succeeded and had no match, and set when the listing
// call itself failed.
type NotFoundError struct {
	Kind  string
	Name  string
	Cause error
}

func (e *NotFoundError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %q not resolved: %v", e.Kind, e.Name, e.Cause)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return e.Cause }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Workspace is a resolved workspace.
type Workspace struct {
	DisplayName string
	ID          string
}

// Ref identifies a resolved environment.
type Ref struct {
	DisplayName string
	ID          string
	WorkspaceID string
	Created     bool
}

// Lookup maps display names to identifiers.
type Lookup interface {
	ResolveWorkspaceID(ctx context.Context, displayName string) (string, error)
	// FindEnvironment returns "" with a nil error when the environment does not exist.
	FindEnvironment(ctx context.Context, displayName, workspaceID string) (string, error)
}

// API is the subset of the Fabric client used for resolution.
type API interface {
	ListWorkspaces(ctx context.Context) ([]fabric.Workspace, error)
	ListEnvironments(ctx context.Context, workspaceID string) ([]fabric.Environment, error)
	CreateEnvironment(ctx context.Context, workspaceID string, req fabric.CreateItemRequest) (fabric.Item, error)
}

// RESTLookup resolves names by listing resources through the REST API.
type RESTLookup struct {
	API API
}

// ResolveWorkspaceID returns the id of the first workspace named displayName.
func (l RESTLookup) ResolveWorkspaceID(ctx context.Context, displayName string) (string, error) {
	workspaces, err := l.API.ListWorkspaces(ctx)
	if err != nil {
		return "", &NotFoundError{Kind: "workspace", Name: displayName, Cause: err}
	}
	for _, ws := range workspaces {
		if ws.DisplayName == displayName {
			return ws.ID, nil
		}
	}
	return "", &NotFoundError{Kind: "workspace", Name: displayName}
}

// FindEnvironment returns the id of the first environment named displayName.
// A 404 on the listing counts as absent.
func (l RESTLookup) FindEnvironment(ctx context.Context, displayName, workspaceID string) (string, error) {
	envs, err := l.API.ListEnvironments(ctx, workspaceID)
	if err != nil {
		if fabric.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("list environments of workspace %s: %w", workspaceID, err)
	}
	for _, env := range envs {
		if env.DisplayName == displayName {
			return env.ID, nil
		}
	}
	return "", nil
}

// Resolver turns display names into an environment reference, creating the
// environment when it does not exist yet.
type Resolver struct {
	Lookup      Lookup
	API         API
	Description string
	Logger      *log.Logger
}

// NewResolver builds a resolver that looks names up with lookup and creates
// missing environments through api.
func NewResolver(lookup Lookup, api API, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{Lookup: lookup, API: api, Description: DefaultDescription, Logger: logger}
}

// CreateOrGet resolves the workspace, then returns the existing environment
// or creates it. Repeated calls with the same names create at most once.
func (r *Resolver) CreateOrGet(ctx context.Context, displayName, workspaceName string) (Ref, error) {
	wsID, err := r.Lookup.ResolveWorkspaceID(ctx, workspaceName)
	if err != nil {
		return Ref{}, err
	}
	envID, err := r.Lookup.FindEnvironment(ctx, displayName, wsID)
	if err != nil {
		return Ref{}, err
	}
	if envID != "" {
		r.Logger.Info("environment already exists", "environment", displayName, "workspace", workspaceName)
		return Ref{DisplayName: displayName, ID: envID, WorkspaceID: wsID}, nil
	}

	item, err := r.API.CreateEnvironment(ctx, wsID, fabric.CreateItemRequest{
		DisplayName: displayName,
		Type:        fabric.ItemTypeEnvironment,
		Description: r.Description,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("create environment %q (status %d): %w", displayName, fabric.StatusCode(err), err)
	}
	if item.ID == "" {
		return Ref{}, fmt.Errorf("create environment %q: response carried no id", displayName)
	}
	if item.WorkspaceID != "" {
		wsID = item.WorkspaceID
	}
	r.Logger.Info("environment created", "environment", displayName, "id", item.ID)
	return Ref{DisplayName: displayName, ID: item.ID, WorkspaceID: wsID, Created: true}, nil
}
