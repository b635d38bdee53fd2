// Package plm turns a generated tree into linked objects on a remote PLM
// system. The remote side is reached only through the collaborator
// interfaces below; package teamcenter implements them over REST.
package plm

import "context"

// DefaultObjectType is used for nodes that do not carry a type of their own.
const DefaultObjectType = "Item"

// Credentials are sent once per run.
type Credentials struct {
	Username string
	Password string
}

// Session is the token obtained at login. It is read-only for the rest of
// the run and is never renewed.
type Session struct {
	Token    string
	Username string
}

// Container identifies a folder-like remote object.
type Container struct {
	UID        string
	ClassName  string
	ObjectType string
}

// ContainerRequest describes the destination folder created for one run.
type ContainerRequest struct {
	Name        string
	Description string
	Parent      Container
}

// ItemSpec describes one remote item to create.
type ItemSpec struct {
	Name        string
	ObjectType  string
	Description string
}

// CreatedObject holds the identifiers returned for a created item and its
// initial revision.
type CreatedObject struct {
	ObjectUID   string
	RevisionUID string
}

// Complete reports whether both identifiers are present.
func (o *CreatedObject) Complete() bool {
	return o != nil && o.ObjectUID != "" && o.RevisionUID != ""
}

// Window is a server-side structure window anchored to a root revision.
type Window struct {
	ID         string
	RootLineID string
}

// RuleParams configures the revision rule a structure window is opened with.
type RuleParams struct {
	RevisionRule string
	UnitNo       int
	Today        bool
}

// DefaultRuleParams opens windows with the server's default rule as of today.
func DefaultRuleParams() RuleParams {
	return RuleParams{UnitNo: -1, Today: true}
}

type SessionClient interface {
	Login(ctx context.Context, creds Credentials) (*Session, error)
}

type ContainerResolver interface {
	CreateContainer(ctx context.Context, s *Session, req ContainerRequest) (*Container, error)
}

// ObjectCreator creates an item and its first revision in one call. Calls
// are not idempotent: two calls with the same name create two objects.
type ObjectCreator interface {
	CreateItem(ctx context.Context, s *Session, container *Container, spec ItemSpec) (*CreatedObject, error)
}

// StructureWindowManager owns the window lifecycle. Close releases every
// window the manager has opened and not yet closed; with none open it
// returns an empty list and no error.
type StructureWindowManager interface {
	Open(ctx context.Context, s *Session, objectUID, revisionUID string, rule RuleParams) (*Window, error)
	AttachChild(ctx context.Context, s *Session, parentLineID, childRevisionUID string) (string, error)
	Save(ctx context.Context, s *Session, windowID string) ([]string, error)
	Close(ctx context.Context, s *Session) ([]string, error)
}

// Collaborators bundles the remote services a Materializer drives.
type Collaborators struct {
	Sessions   SessionClient
	Containers ContainerResolver
	Objects    ObjectCreator
	Windows    StructureWindowManager
}
