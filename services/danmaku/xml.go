package danmaku

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"strings"

	"danmuhub/models"
)

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

type xmlComment struct {
	P    string `xml:"p,attr"`
	Text string `xml:",chardata"`
}

type xmlFile struct {
	XMLName        xml.Name     `xml:"i"`
	ChatServer     string       `xml:"chatserver"`
	ChatID         int64        `xml:"chatid"`
	Mission        int          `xml:"mission"`
	MaxLimit       int          `xml:"maxlimit"`
	Source         string       `xml:"source"`
	SourceProvider string       `xml:"sourceprovider"`
	DataSize       int          `xml:"datasize"`
	D              []xmlComment `xml:"d"`
}

// EncodeXML renders comments into a dandanplay-compatible file body. The p
// attributes are assumed already normalized.
func EncodeXML(episodeID int64, provider string, comments []models.Comment) ([]byte, error) {
	f := xmlFile{
		ChatServer:     "danmuhub",
		ChatID:         episodeID,
		Mission:        0,
		MaxLimit:       2000,
		Source:         "k-v",
		SourceProvider: provider,
		DataSize:       len(comments),
		D:              make([]xmlComment, 0, len(comments)),
	}
	for _, c := range comments {
		f.D = append(f.D, xmlComment{P: c.P, Text: stripInvalidXML(c.M)})
	}
	body, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode danmaku xml: %w", err)
	}
	return append([]byte(xmlHeader), body...), nil
}

// DecodeXML parses a danmaku file, tolerating malformed <d> nodes by
// skipping them. Invalid XML control characters are stripped up front.
func DecodeXML(data []byte) ([]models.Comment, error) {
	data = []byte(stripInvalidXML(string(data)))
	dec := xml.NewDecoder(bytes.NewReader(data))
	var out []models.Comment
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("parse danmaku xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "d" {
			continue
		}
		var node xmlComment
		if err := dec.DecodeElement(&node, &start); err != nil {
			log.Printf("[danmaku] skipping malformed comment node: %v", err)
			continue
		}
		p := NormalizeP(node.P, "")
		out = append(out, models.Comment{
			CID: int64(len(out) + 1),
			P:   p,
			M:   node.Text,
			T:   PTime(p),
		})
	}
	return out, nil
}

// CountComments counts <d> nodes without materializing comment structs.
func CountComments(data []byte) int {
	dec := xml.NewDecoder(bytes.NewReader([]byte(stripInvalidXML(string(data)))))
	n := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return n
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "d" {
			n++
		}
	}
}

// stripInvalidXML drops control characters XML 1.0 forbids.
func stripInvalidXML(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0x9 || r == 0xA || r == 0xD {
			return r
		}
		if r < 0x20 || (r >= 0xD800 && r <= 0xDFFF) || r == 0xFFFE || r == 0xFFFF {
			return -1
		}
		return r
	}, s)
}
