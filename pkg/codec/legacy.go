package codec

import "bytes"

// PostV1 is the legacy record layout. Content carries no variant tag and is
// always plaintext.
type PostV1 struct {
	Title   []byte
	Content []byte
	Author  Identity
}

// Equal reports whether p and o are identical.
func (p PostV1) Equal(o PostV1) bool {
	return bytes.Equal(p.Title, o.Title) &&
		bytes.Equal(p.Content, o.Content) &&
		p.Author == o.Author
}

// EncodePostV1 serializes p in the legacy layout. Nothing in Quill writes v1
// records to storage; this exists for fixtures and tooling that needs to
// reproduce historical data.
func EncodePostV1(p PostV1) ([]byte, error) {
	if err := checkLen(p.Title); err != nil {
		return nil, err
	}
	if err := checkLen(p.Content); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 2*lenPrefixSize+len(p.Title)+len(p.Content)+IdentitySize)
	buf = putBytes(buf, p.Title)
	buf = putBytes(buf, p.Content)
	buf = append(buf, p.Author[:]...)
	return buf, nil
}

// DecodePostV1 parses a legacy record.
func DecodePostV1(data []byte) (PostV1, error) {
	r := &reader{data: data}
	title := r.bytes()
	content := r.bytes()
	author := r.identity()
	if err := r.finish(SchemaV1); err != nil {
		return PostV1{}, err
	}
	return PostV1{Title: title, Content: content, Author: author}, nil
}

// Upgrade converts a legacy record to the current layout. It never fails:
// untagged v1 content becomes Plain.
func Upgrade(p PostV1) Post {
	return Post{
		Title:   p.Title,
		Content: Plain(p.Content),
		Author:  p.Author,
	}
}
