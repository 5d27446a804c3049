package validation_test

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimmerapp/glimmer/internal/validation"
)

func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))

	return req.MultipartForm.File["file"][0]
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil))
	return buf.Bytes()
}

func TestValidateFile_AcceptsPNG(t *testing.T) {
	header := fileHeader(t, "photo.png", encodePNG(t))
	err := validation.ValidateFile(header, validation.ImageConstraints)
	assert.NoError(t, err)
}

func TestValidateFile_AcceptsJPEG(t *testing.T) {
	header := fileHeader(t, "photo.jpg", encodeJPEG(t))
	err := validation.ValidateFile(header, validation.ImageConstraints)
	assert.NoError(t, err)
}

func TestValidateFile_RejectsSpoofedExtension(t *testing.T) {
	// Text content, image extension: magic numbers win
	header := fileHeader(t, "notes.png", []byte("just some text pretending to be an image"))
	err := validation.ValidateFile(header, validation.ImageConstraints)
	assert.ErrorContains(t, err, "invalid file type")
}

func TestValidateFile_RejectsWrongExtension(t *testing.T) {
	header := fileHeader(t, "photo.gif", encodePNG(t))
	err := validation.ValidateFile(header, validation.ImageConstraints)
	assert.ErrorContains(t, err, "invalid file extension")
}

func TestValidateFile_RejectsOversized(t *testing.T) {
	header := fileHeader(t, "big.png", encodePNG(t))
	err := validation.ValidateFile(header, validation.ImageConstraints.WithMaxSize(10))
	assert.ErrorContains(t, err, "file too large")
}
