package model

import "time"

// Note is a free-form note kept next to the tasks.
type Note struct {
	ID        string
	Title     string
	Content   string
	UpdatedAt time.Time
	Extra     Record
}

func (n Note) ItemID() string { return n.ID }

func (n Note) Clone() Note {
	n.Extra = n.Extra.Clone()
	return n
}

var noteFields = []string{"id", "title", "content", "updatedAt"}

// NormalizeNote turns any JSON-shaped record into a Note.
func NormalizeNote(r Record) Note {
	n := Note{
		ID:        asString(r["id"]),
		Title:     asString(r["title"]),
		Content:   asString(r["content"]),
		UpdatedAt: asTime(r["updatedAt"]),
		Extra:     extras(r, noteFields...),
	}
	return n
}

// SerializeNote is the inverse of NormalizeNote.
func SerializeNote(n Note) Record {
	r := n.Extra.Clone()
	if r == nil {
		r = Record{}
	}
	r["id"] = idValue(n.ID)
	r["title"] = n.Title
	r["content"] = n.Content
	if !n.UpdatedAt.IsZero() {
		r["updatedAt"] = formatTime(n.UpdatedAt)
	}
	return r
}

// ValidNote only requires an id: notes may have an empty title and content.
func ValidNote(n Note) bool { return n.ID != "" }

var NoteCodec = Codec[Note]{
	Kind:      KindNotes,
	Normalize: NormalizeNote,
	Serialize: SerializeNote,
	Valid:     ValidNote,
	Clone:     Note.Clone,
}
