package server

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/Ankesh2004/segswap/internal/storage"
)

// Kind tags a Message. The set is closed: every message either peer can
// send is listed here.
type Kind uint8

const (
	KindFetchFileInfo Kind = iota + 1 // client → listener
	KindFileSize                      // listener → client
	KindFetchNumbers                  // client → listener
	KindNumbers                       // listener → client
	KindFetchSegment                  // client → listener
	KindSegment                       // listener → client
	KindFinished                      // both ways: request, then echo
	KindNotFound                      // listener → client, file unknown
)

var kindNames = map[Kind]string{
	KindFetchFileInfo: "FetchFileInfo",
	KindFileSize:      "FileSize",
	KindFetchNumbers:  "FetchNumbers",
	KindNumbers:       "Numbers",
	KindFetchSegment:  "FetchSegment",
	KindSegment:       "Segment",
	KindFinished:      "Finished",
	KindNotFound:      "NotFound",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Message is the only thing that travels between peers. Every message names
// the file it is about; which payload fields matter depends on Kind.
type Message struct {
	FileName string
	Kind     Kind

	Size    uint64   // FileSize
	Index   uint64   // FetchSegment, Segment
	Known   bool     // Numbers: false means the sender has no such file
	Indices []uint64 // Numbers
	Data    []byte   // Segment
}

func FetchFileInfo(name string) Message {
	return Message{FileName: name, Kind: KindFetchFileInfo}
}

func FileSize(name string, size uint64) Message {
	return Message{FileName: name, Kind: KindFileSize, Size: size}
}

func FetchNumbers(name string) Message {
	return Message{FileName: name, Kind: KindFetchNumbers}
}

// Numbers advertises the held indices; known=false stands for "no such file".
func Numbers(name string, indices []uint64, known bool) Message {
	return Message{FileName: name, Kind: KindNumbers, Indices: indices, Known: known}
}

func FetchSegment(name string, index uint64) Message {
	return Message{FileName: name, Kind: KindFetchSegment, Index: index}
}

func SegmentMessage(name string, seg storage.Segment) Message {
	return Message{FileName: name, Kind: KindSegment, Index: seg.Index, Data: seg.Data}
}

func Finished(name string) Message {
	return Message{FileName: name, Kind: KindFinished}
}

func NotFound(name string) Message {
	return Message{FileName: name, Kind: KindNotFound}
}

// Segment extracts the segment carried by a KindSegment message.
func (m Message) Segment() storage.Segment {
	return storage.Segment{Index: m.Index, Data: m.Data}
}

func encodeMessage(msg Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Kind, err)
	}
	return buf.Bytes(), nil
}

func decodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if _, ok := kindNames[msg.Kind]; !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Kind)
	}
	return msg, nil
}
