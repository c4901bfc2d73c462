package mailparse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PlainText(t *testing.T) {
	raw := "From: VPBank <vpbankonline@vpb.com.vn>\r\n" +
		"Subject: =?UTF-8?B?Qmnhur9uIMSR4buZbmcgc+G7kSBkxrA=?=\r\n" +
		"Date: Sat, 14 Mar 2026 09:30:00 +0700\r\n" +
		"Message-Id: <abc123@vpb.com.vn>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Số tiền: 150.000 VND\r\nNội dung: Thanh toán điện\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "abc123@vpb.com.vn", msg.ID)
	assert.Equal(t, "VPBank <vpbankonline@vpb.com.vn>", msg.From)
	assert.Equal(t, "Biến động số dư", msg.Subject)
	assert.Equal(t, "Số tiền: 150.000 VND\nNội dung: Thanh toán điện\n", msg.Body)
	assert.True(t, msg.ReceivedAt.Equal(time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC)))
}

func TestParse_MultipartPrefersPlain(t *testing.T) {
	raw := "From: alerts@techcombank.com.vn\r\n" +
		"Subject: Thong bao\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html version</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"S=E1=BB=91 ti=E1=BB=81n: 2.000.000 VND\r\n" +
		"--XYZ--\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Số tiền: 2.000.000 VND", msg.Body)
}

func TestParse_HTMLFallback(t *testing.T) {
	raw := "From: alerts@bank.example\r\n" +
		"Subject: Alert\r\n" +
		"Content-Type: multipart/mixed; boundary=outer\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"PHRhYmxlPjx0cj48dGQ+U+G7kSB0aeG7gW48L3RkPjx0ZD4xNTAuMDAwIFZORDwvdGQ+PC90cj48\r\n" +
		"L3RhYmxlPg==\r\n" +
		"--outer\r\n" +
		"Content-Type: application/pdf\r\n" +
		"\r\n" +
		"%PDF-1.4\r\n" +
		"--outer--\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Số tiền 150.000 VND", msg.Body)
}

func TestParse_Latin1Body(t *testing.T) {
	raw := "From: bank@example.com\r\n" +
		"Subject: Caf\xe9\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"\r\n" +
		"Caf\xe9 12,50\r\n"

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Café 12,50\n", msg.Body)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	assert.Error(t, err)
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "table cells share a line",
			in:   "<table><tr><td>Số tiền</td><td>150.000 VND</td></tr><tr><td>Nội dung</td><td>Điện</td></tr></table>",
			want: "Số tiền 150.000 VND\nNội dung Điện",
		},
		{
			name: "script and style dropped",
			in:   "<html><head><title>x</title><style>p{}</style></head><body><script>var a=1</script><p>Hello</p></body></html>",
			want: "Hello",
		},
		{
			name: "breaks and entities",
			in:   "Line&nbsp;one<br>Line &amp; two",
			want: "Line one\nLine & two",
		},
		{
			name: "unclosed tags keep text",
			in:   "<div>Amount <b>50",
			want: "Amount 50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTMLToText(tt.in))
		})
	}
}
