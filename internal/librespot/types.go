package librespot

import "encoding/json"

// Status is the playback status returned by GET /status.
type Status struct {
	Stopped   bool   `json:"stopped"`
	Paused    bool   `json:"paused"`
	Buffering bool   `json:"buffering"`
	Track     *Track `json:"track"`
}

// Track is a track as reported by the daemon's REST API.
type Track struct {
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	ArtistNames []string `json:"artist_names"`
	AlbumName   string   `json:"album_name"`
	TrackNumber int      `json:"track_number"`
	Duration    int      `json:"duration"` // milliseconds
	Position    int      `json:"position"` // milliseconds
}

// Event is a message on the /events WebSocket.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventMetadata is the data payload for "metadata" events.
type EventMetadata struct {
	URI         string   `json:"uri"`
	Name        string   `json:"name"`
	ArtistNames []string `json:"artist_names"`
	AlbumName   string   `json:"album_name"`
	TrackNumber int      `json:"track_number"`
	Duration    int      `json:"duration"` // ms
	Position    int      `json:"position"` // ms
}

const (
	EventTypeActive     = "active"
	EventTypeInactive   = "inactive"
	EventTypeMetadata   = "metadata"
	EventTypePlaying    = "playing"
	EventTypePaused     = "paused"
	EventTypeStopped    = "stopped"
	EventTypeNotPlaying = "not_playing"
)
