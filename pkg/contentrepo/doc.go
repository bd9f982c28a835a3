// Package contentrepo provides a content repository with a dynamic, typed
// schema and pluggable persistence and blob storage backends.
//
// Content is stored as Nodes: a fixed set of system properties (id, parent,
// name, path, type, version, dates and users) plus a map of property slots.
// Content types, parsed from content type definitions (CTD XML) by the schema
// subpackage, describe which fields a node has and how each field converts
// between its slot, its XML import/export form and its OData JSON form.
//
// The Service interface orchestrates loading, querying, creating, updating,
// moving, copying and deleting content, and storing binary field data in a
// BlobStore. Repository implementations (memory, Postgres) and blob stores
// (memory, filesystem, S3) are provided under subpackages.
//
// # Tree Layout
//
// Every content lives below /Root, which is created together with the
// administrator account (/Root/IMS/Admin) the first time the service touches
// the repository. Paths are unique; sibling names must be unique and may not
// contain the characters / \ : * ? " < > | '.
package contentrepo
