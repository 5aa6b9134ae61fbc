package request

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/url"
	"strings"

	"api-runner/internal/util"
)

// Body is the closed set of request body kinds.
type Body interface {
	isBody()
}

type NoBody struct{}

type JSONBody struct {
	Content string
}

type XMLBody struct {
	Content string
}

// TextBody is a raw body. Its content type is JSON when the resolved text
// parses as JSON and text/plain otherwise.
type TextBody struct {
	Content string
}

type FormURLEncodedBody struct {
	Fields []KeyValue
}

// FilePart is an in-memory file attached to a multipart body.
type FilePart struct {
	FieldName string
	FileName  string
	Content   []byte
}

type MultipartFormBody struct {
	Fields []KeyValue
	Files  []FilePart
}

// BinaryBody is sent as-is; no substitution is applied to Data.
type BinaryBody struct {
	Data        []byte
	ContentType string
}

func (NoBody) isBody()             {}
func (JSONBody) isBody()           {}
func (XMLBody) isBody()            {}
func (TextBody) isBody()           {}
func (FormURLEncodedBody) isBody() {}
func (MultipartFormBody) isBody()  {}
func (BinaryBody) isBody()         {}

const (
	contentTypeJSON   = "application/json"
	contentTypeXML    = "application/xml"
	contentTypeText   = "text/plain"
	contentTypeForm   = "application/x-www-form-urlencoded"
	contentTypeBinary = "application/octet-stream"
)

// renderBody resolves a body through resolve and returns the payload with its
// content-type hint. A nil body behaves as NoBody.
func renderBody(b Body, resolve func(string) string) ([]byte, string, error) {
	switch v := b.(type) {
	case nil, NoBody:
		return nil, "", nil
	case JSONBody:
		return []byte(resolve(v.Content)), contentTypeJSON, nil
	case XMLBody:
		return []byte(resolve(v.Content)), contentTypeXML, nil
	case TextBody:
		content := resolve(v.Content)
		if util.LooksLikeJSON(content) {
			return []byte(content), contentTypeJSON, nil
		}
		return []byte(content), contentTypeText, nil
	case FormURLEncodedBody:
		form := url.Values{}
		var keys []string
		for _, f := range enabledEntries(v.Fields) {
			if _, seen := form[f.Key]; !seen {
				keys = append(keys, f.Key)
			}
			form.Add(f.Key, resolve(f.Value))
		}
		return []byte(encodeOrdered(form, keys)), contentTypeForm, nil
	case MultipartFormBody:
		return renderMultipart(v, resolve)
	case BinaryBody:
		ct := v.ContentType
		if ct == "" {
			ct = contentTypeBinary
		}
		return v.Data, ct, nil
	default:
		return nil, "", fmt.Errorf("%w: unsupported body %T", ErrInvalidSpec, b)
	}
}

// encodeOrdered encodes form keeping the first-seen key order, unlike
// url.Values.Encode which sorts.
func encodeOrdered(form url.Values, keys []string) string {
	var sb strings.Builder
	for _, k := range keys {
		for _, val := range form[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(url.QueryEscape(k))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(val))
		}
	}
	return sb.String()
}

func renderMultipart(v MultipartFormBody, resolve func(string) string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range enabledEntries(v.Fields) {
		if err := w.WriteField(f.Key, resolve(f.Value)); err != nil {
			return nil, "", fmt.Errorf("%w: multipart field '%s': %v", ErrInvalidSpec, f.Key, err)
		}
	}
	for _, file := range v.Files {
		if strings.TrimSpace(file.FieldName) == "" {
			return nil, "", fmt.Errorf("%w: multipart file part has no field name", ErrInvalidSpec)
		}
		part, err := w.CreateFormFile(file.FieldName, file.FileName)
		if err != nil {
			return nil, "", fmt.Errorf("%w: multipart file '%s': %v", ErrInvalidSpec, file.FieldName, err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, "", fmt.Errorf("%w: multipart file '%s': %v", ErrInvalidSpec, file.FieldName, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("%w: multipart close: %v", ErrInvalidSpec, err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
