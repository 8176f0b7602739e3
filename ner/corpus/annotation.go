// Package corpus reads per-document annotation files and turns them into
// aligned (token, label) sequences plus training examples.
package corpus

// Annotation is a single entity annotation parsed from a document file.
// Immutable once parsed.
type Annotation struct {
	ID     int    `json:"id"`
	TypeID int    `json:"type_id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

// Token is one orthographic token together with the ids of the annotations
// covering it.
type Token struct {
	Orth        string `json:"orth"`
	Annotations []int  `json:"annotations"`
}

// Document is an ordered token sequence plus the annotation table the
// tokens reference. Every referenced annotation id must exist in the table.
type Document struct {
	Path        string
	Tokens      []Token
	Annotations map[int]Annotation
}
