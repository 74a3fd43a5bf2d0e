package model

// InteractionRecord is one logged request/response pair.
type InteractionRecord struct {
	Timestamp string `json:"timestamp"`
	Request   string `json:"request"`
	Response  string `json:"response"`
}

// RemoteArtifact describes a local file to replicate to the remote object store.
// UpdateInPlace artifacts are looked up by name and overwritten; all others are
// created as new remote objects.
type RemoteArtifact struct {
	LocalPath     string
	RemoteName    string
	UpdateInPlace bool
}

// DeliveryChunk is one bounded piece of an assessment result.
type DeliveryChunk struct {
	Text  string
	Index int
}
