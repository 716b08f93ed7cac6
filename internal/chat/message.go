// Package chat delivers rendered text blocks and files to the operator chat channel.
package chat

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrPost   = errors.New("chat post error")
	ErrUpload = errors.New("chat file upload error")
)

// BlockKind is the kind of a message block.
type BlockKind string

const (
	// KindSection is a markdown text section.
	KindSection BlockKind = "section"
	// KindHeader is a plain text header.
	KindHeader BlockKind = "header"
)

// Block is one text block of a message.
type Block struct {
	Kind BlockKind
	Text string
}

// Section returns a markdown section block.
func Section(text string) Block {
	return Block{Kind: KindSection, Text: text}
}

// Header returns a plain text header block.
func Header(text string) Block {
	return Block{Kind: KindHeader, Text: text}
}

// File is content delivered as a file attachment rather than inline text.
type File struct {
	Content  string
	Filename string
	Title    string
}

// Message is a chat post, either blocks or a file.
type Message struct {
	// Username is the display name the message is posted as, empty for the default.
	Username string
	Blocks   []Block
	File     *File
}

// Sections returns a message with one section block per text.
func Sections(username string, texts ...string) *Message {
	m := &Message{Username: username}
	for _, t := range texts {
		m.Blocks = append(m.Blocks, Section(t))
	}

	return m
}

// Poster posts messages to the configured channel.
type Poster interface {
	Post(ctx context.Context, msg *Message) error
}
