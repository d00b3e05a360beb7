package fetcher

import (
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// XMLOption tweaks the decoder used by StreamXML.
type XMLOption func(*xml.Decoder)

// Lenient accepts the loose markup publishers emit: undeclared HTML entities,
// unclosed void elements and mismatched tags.
func Lenient() XMLOption {
	return func(d *xml.Decoder) {
		d.Strict = false
		d.AutoClose = xml.HTMLAutoClose
		d.Entity = xml.HTMLEntity
	}
}

// StreamXML decodes XML elements matching the given local name and sends them to a channel.
// The type parameter T must be a struct with appropriate xml tags.
// Both channels are closed when processing completes.
func StreamXML[T any](ctx context.Context, r io.Reader, elementName string, opts ...XMLOption) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := xml.NewDecoder(r)
		decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		}
		for _, opt := range opts {
			opt(decoder)
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}

			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "xml: read token")
				return
			}

			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != elementName {
				continue
			}

			var item T
			if err := decoder.DecodeElement(&item, &se); err != nil {
				errCh <- eris.Wrap(err, "xml: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// CollectXML drains StreamXML into a slice. Items decoded before a stream
// error are returned alongside it.
func CollectXML[T any](ctx context.Context, r io.Reader, elementName string, opts ...XMLOption) ([]T, error) {
	itemCh, errCh := StreamXML[T](ctx, r, elementName, opts...)
	var items []T
	for item := range itemCh {
		items = append(items, item)
	}
	for err := range errCh {
		return items, err
	}
	return items, nil
}

// Text collects every run of character data below an element, including
// text inside inline markup such as <italic> or <sup>. Runs are joined with a
// single space and surrounding whitespace is dropped.
type Text string

// UnmarshalXML implements xml.Unmarshaler.
func (t *Text) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return eris.Wrap(err, "xml: read text")
		}
		switch tt := tok.(type) {
		case xml.CharData:
			b.Write(tt)
			b.WriteByte(' ')
		case xml.StartElement:
			depth++
		case xml.EndElement:
			if depth == 0 {
				*t = Text(strings.Join(strings.Fields(b.String()), " "))
				return nil
			}
			depth--
		}
	}
}

// String returns the collected text.
func (t Text) String() string {
	return string(t)
}
