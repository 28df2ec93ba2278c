package report

import (
	"context"

	"go.uber.org/zap"
)

// Message is a text report.
type Message struct {
	// Key identifies the report period, e.g. "2025-W02".
	Key   string
	Title string
	Text  string
	// Total is the deal count of the reported snapshot.
	Total int
}

// File is an attachment. URL is set when the file was also uploaded to the
// reports folder.
type File struct {
	Key     string
	Path    string
	Name    string
	Title   string
	Caption string
	URL     string
}

// Sink delivers reports to one destination.
type Sink interface {
	Name() string
	SendMessage(ctx context.Context, msg Message) error
	UploadFile(ctx context.Context, f File) error
}

// Delivery counts broadcast outcomes.
type Delivery struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Broadcast sends msg and, when non-nil, file to every sink. Sink failures are
// logged and counted, never returned.
func Broadcast(ctx context.Context, sinks []Sink, msg Message, file *File) Delivery {
	var d Delivery
	for _, s := range sinks {
		log := zap.L().With(zap.String("component", "report"), zap.String("sink", s.Name()))
		if err := s.SendMessage(ctx, msg); err != nil {
			log.Error("report: send message failed", zap.Error(err))
			d.Failed++
		} else {
			d.Sent++
		}
		if file == nil {
			continue
		}
		if err := s.UploadFile(ctx, *file); err != nil {
			log.Error("report: upload file failed", zap.String("file", file.Name), zap.Error(err))
			d.Failed++
		} else {
			d.Sent++
		}
	}
	return d
}
