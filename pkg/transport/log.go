package transport

import "github.com/latticehq/sequencer/pkg/archive"

// archiveLogAppender adapts an archive.Publication to LogAppender — the
// leader's log channel is, in this module, an archive recording in
// progress (spec.md §4.2 "start archive recording of the log channel").
type archiveLogAppender struct {
	pub archive.Publication
}

// NewLogAppender wraps an in-progress recording as the leader's write path.
func NewLogAppender(pub archive.Publication) LogAppender {
	return &archiveLogAppender{pub: pub}
}

func (a *archiveLogAppender) Append(data []byte) (int64, bool) { return a.pub.Append(data) }
func (a *archiveLogAppender) Position() int64                  { return a.pub.Position() }
func (a *archiveLogAppender) RecordingID() int64                { return a.pub.RecordingID() }
func (a *archiveLogAppender) Close() error                      { return a.pub.Close() }

// archiveLogAdapter adapts an archive.Image to LogAdapter — a follower
// subscribes to the leader's recording via a replay session
// (spec.md §4.2 "subscribe and await the image").
type archiveLogAdapter struct {
	img archive.Image
}

func NewLogAdapter(img archive.Image) LogAdapter {
	return &archiveLogAdapter{img: img}
}

func (a *archiveLogAdapter) Poll(limit int, fn func(data []byte)) int {
	n, _ := a.img.Poll(limit, fn)
	return n
}

func (a *archiveLogAdapter) Position() int64 { return a.img.Position() }
func (a *archiveLogAdapter) Closed() bool    { return a.img.Closed() }

var _ LogAppender = (*archiveLogAppender)(nil)
var _ LogAdapter = (*archiveLogAdapter)(nil)
