package lastfm

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"scrobbler/internal/core"
)

// envelope is the <lfm> root element of every Last.fm XML response.
type envelope struct {
	XMLName   xml.Name         `xml:"lfm"`
	Status    string           `xml:"status,attr"`
	Error     *errorElement    `xml:"error"`
	Token     string           `xml:"token"`
	Session   sessionElement   `xml:"session"`
	Track     trackElement     `xml:"track"`
	Scrobbles scrobblesElement `xml:"scrobbles"`
}

type errorElement struct {
	Code    int    `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type sessionElement struct {
	Name       string `xml:"name"`
	Key        string `xml:"key"`
	Subscriber int    `xml:"subscriber"`
}

type trackElement struct {
	Name     string `xml:"name"`
	MBID     string `xml:"mbid"`
	Duration string `xml:"duration"`
	Artist   struct {
		Name string `xml:"name"`
		MBID string `xml:"mbid"`
	} `xml:"artist"`
	Album struct {
		Title string `xml:"title"`
	} `xml:"album"`
}

type scrobblesElement struct {
	Accepted int `xml:"accepted,attr"`
	Ignored  int `xml:"ignored,attr"`
}

// convertTrack maps a track.getInfo record; duration is reported in milliseconds.
func convertTrack(track *trackElement) *core.CatalogTrack {
	var duration time.Duration
	if ms, err := strconv.ParseInt(strings.TrimSpace(track.Duration), 10, 64); err == nil && ms > 0 {
		duration = time.Duration(ms) * time.Millisecond
	}

	return &core.CatalogTrack{
		Name:       track.Name,
		Artist:     track.Artist.Name,
		ArtistMBID: strings.TrimSpace(track.Artist.MBID),
		Album:      strings.TrimSpace(track.Album.Title),
		Duration:   duration,
	}
}
