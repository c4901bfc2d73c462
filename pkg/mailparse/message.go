// Package mailparse decodes raw RFC 5322 messages into api.EmailMessage values
// with a plain-text body.
package mailparse

import (
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/ArionMiles/bankmail/pkg/api"
)

// maxBodyBytes bounds how much of a single part is read.
const maxBodyBytes = 10 << 20

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// Parse reads one message. The body prefers the text/plain part and falls back
// to the HTML part converted to text.
func Parse(r io.Reader) (api.EmailMessage, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return api.EmailMessage{}, fmt.Errorf("reading message: %w", err)
	}

	out := api.EmailMessage{
		ID:      strings.Trim(msg.Header.Get("Message-Id"), "<> "),
		From:    decodeHeader(msg.Header.Get("From")),
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}
	if date, err := msg.Header.Date(); err == nil {
		out.ReceivedAt = date
	}

	plain, html, err := walk(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return api.EmailMessage{}, fmt.Errorf("decoding body of %q: %w", out.Subject, err)
	}
	out.Body = plain
	if strings.TrimSpace(out.Body) == "" && html != "" {
		out.Body = HTMLToText(html)
	}
	return out, nil
}

// walk returns the first text/plain and text/html bodies found in a part tree.
func walk(contentType, transferEncoding string, body io.Reader) (plain, html string, err error) {
	mediaType, params, perr := mime.ParseMediaType(contentType)
	if perr != nil || contentType == "" {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return plain, html, nil
			}
			if err != nil {
				return plain, html, fmt.Errorf("reading multipart: %w", err)
			}
			p, h, err := walk(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return plain, html, err
			}
			if plain == "" {
				plain = p
			}
			if html == "" {
				html = h
			}
		}
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return "", "", nil
	}

	text, err := decodeText(body, transferEncoding, params["charset"])
	if err != nil {
		return "", "", err
	}
	if mediaType == "text/html" {
		return "", text, nil
	}
	return text, "", nil
}

func decodeText(body io.Reader, transferEncoding, charset string) (string, error) {
	r := io.LimitReader(body, maxBodyBytes)
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	if charset != "" && !strings.EqualFold(charset, "utf-8") && !strings.EqualFold(charset, "us-ascii") {
		cr, err := charsetReader(charset, r)
		if err != nil {
			return "", err
		}
		r = cr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading text part: %w", err)
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}
