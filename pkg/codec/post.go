package codec

import "bytes"

// Post is the current (v2) record layout.
type Post struct {
	Title   []byte
	Content Content
	Author  Identity
}

// Size returns the encoded length of p.
func (p Post) Size() int {
	n := lenPrefixSize + len(p.Title) + 1 + lenPrefixSize + IdentitySize
	if p.Content != nil {
		n += len(p.Content.Bytes())
	}
	return n
}

// Equal reports whether p and o hold the same title, content and author.
func (p Post) Equal(o Post) bool {
	return bytes.Equal(p.Title, o.Title) &&
		ContentEqual(p.Content, o.Content) &&
		p.Author == o.Author
}

// EncodePost serializes p in the v2 layout. The output is deterministic.
func EncodePost(p Post) ([]byte, error) {
	if p.Content == nil {
		return nil, ErrNilContent
	}
	body := p.Content.Bytes()
	if err := checkLen(p.Title); err != nil {
		return nil, err
	}
	if err := checkLen(body); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, p.Size())
	buf = putBytes(buf, p.Title)
	buf = append(buf, byte(p.Content.Kind()))
	buf = putBytes(buf, body)
	buf = append(buf, p.Author[:]...)
	return buf, nil
}

// DecodePost parses a v2 record.
func DecodePost(data []byte) (Post, error) {
	r := &reader{data: data}
	title := r.bytes()
	tagOff := r.off
	tag := ContentKind(r.u8())
	if r.err == nil && tag != KindPlain && tag != KindEncrypted {
		r.off = tagOff
		r.fail(ErrUnknownVariant)
	}
	body := r.bytes()
	author := r.identity()
	if err := r.finish(SchemaV2); err != nil {
		return Post{}, err
	}

	content, err := NewContent(tag, body)
	if err != nil {
		return Post{}, &DecodeError{Version: SchemaV2, Offset: tagOff, Err: err}
	}
	return Post{Title: title, Content: content, Author: author}, nil
}
