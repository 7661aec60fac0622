package carousel

import "cinereel/internal/trailer"

type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

type Phase string

const (
	PhaseImage          Phase = "image"
	PhaseTrailerPending Phase = "trailer_pending"
	PhaseTrailerVisible Phase = "trailer_visible"
)

// State is a point-in-time copy of the carousel for rendering.
// Version increases with every published change so consumers can drop
// snapshots that arrive out of order.
type State struct {
	CurrentIndex    int          `json:"currentIndex"`
	Direction       Direction    `json:"direction"`
	AutoplayEnabled bool         `json:"autoplayEnabled"`
	TrailerEnabled  bool         `json:"trailerEnabled"`
	VideoVisible    bool         `json:"videoVisible"`
	Muted           bool         `json:"muted"`
	PendingTrailer  *trailer.Ref `json:"pendingTrailer,omitempty"`
	EmbedURL        string       `json:"embedUrl,omitempty"`
	Phase           Phase        `json:"phase"`
	Hovering        bool         `json:"hovering"`
	Length          int          `json:"length"`
	Generation      uint64       `json:"generation"`
	Version         uint64       `json:"version"`
	Disposed        bool         `json:"disposed"`
}

type pipelineStage int

const (
	stageIdle pipelineStage = iota
	stageWaiting
	stageResolving
	stageVisible
)

func (s pipelineStage) phase() Phase {
	switch s {
	case stageWaiting, stageResolving:
		return PhaseTrailerPending
	case stageVisible:
		return PhaseTrailerVisible
	default:
		return PhaseImage
	}
}
