package event

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// NormalizeText decodes relay-supplied text into UTF-8. Relays occasionally
// forward legacy-charset bodies verbatim; an unknown charset or decode
// failure falls back to the original bytes rather than dropping content.
func NormalizeText(s, charset string) string {
	if s == "" {
		return s
	}
	if charset == "" || isUTF8Charset(charset) {
		return s
	}

	decoder := decoderFor(charset)
	if decoder == nil {
		return s
	}

	reader := transform.NewReader(bytes.NewReader([]byte(s)), decoder)
	decoded, err := io.ReadAll(reader)
	if err != nil || !utf8.Valid(decoded) {
		return s
	}
	return string(decoded)
}

func isUTF8Charset(charset string) bool {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}

// decoderFor maps common charset names to decoders. Unknown charsets return
// nil so the caller can pass the input through untouched.
func decoderFor(charset string) transform.Transformer {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "iso-8859-1", "latin1", "iso_8859-1":
		return charmap.ISO8859_1.NewDecoder()
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2.NewDecoder()
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15.NewDecoder()
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder()
	case "windows-1251", "cp1251":
		return charmap.Windows1251.NewDecoder()
	case "koi8-r":
		return charmap.KOI8R.NewDecoder()
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK.NewDecoder()
	case "big5":
		return traditionalchinese.Big5.NewDecoder()
	case "euc-jp":
		return japanese.EUCJP.NewDecoder()
	case "iso-2022-jp":
		return japanese.ISO2022JP.NewDecoder()
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS.NewDecoder()
	case "euc-kr":
		return korean.EUCKR.NewDecoder()
	}
	return nil
}
