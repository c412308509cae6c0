package attachment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceorb/pkg/api"
)

var defaultTypes = []string{".jpg", ".jpeg", ".png", ".pdf", ".csv", ".doc", ".docx"}

func TestValidateAccepts(t *testing.T) {
	v := NewValidator(10485760, defaultTypes)

	for _, name := range []string{"photo.JPG", "report.pdf", "data.csv", "a.b.docx"} {
		assert.NoError(t, v.Validate(api.FileAttachment{Filename: name, Size: 1024}), name)
	}
}

func TestValidateRejectsOversizedRegardlessOfType(t *testing.T) {
	v := NewValidator(10485760, defaultTypes)

	for _, name := range []string{"big.pdf", "big.exe"} {
		err := v.Validate(api.FileAttachment{Filename: name, Size: 20 * 1024 * 1024})
		require.Error(t, err)

		var apiErr *api.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, api.KindAttachmentRejected, apiErr.Kind)
		assert.Equal(t, api.ReasonSize, apiErr.Reason)
		assert.Equal(t, `File "`+name+`" exceeds maximum size of 10MB`, apiErr.Message)
	}
}

func TestValidateRejectsUnlistedTypeRegardlessOfSize(t *testing.T) {
	v := NewValidator(10485760, defaultTypes)

	for _, f := range []api.FileAttachment{
		{Filename: "tiny.exe", Size: 1},
		{Filename: "empty.sh"},
		{Filename: "noextension", Size: 10},
	} {
		err := v.Validate(f)
		require.Error(t, err, f.Filename)

		var apiErr *api.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, api.ReasonType, apiErr.Reason)
	}

	err := v.Validate(api.FileAttachment{Filename: "tiny.EXE", Size: 1})
	assert.Equal(t, `File type ".exe" is not allowed`, api.UserMessage(err))
}

func TestValidateUsesDataLength(t *testing.T) {
	v := NewValidator(4, []string{"txt"})

	assert.NoError(t, v.Validate(api.FileAttachment{Filename: "a.txt", Data: []byte("abcd")}))
	err := v.Validate(api.FileAttachment{Filename: "a.txt", Data: []byte("abcde")})
	assert.True(t, api.IsKind(err, api.KindAttachmentRejected))
}

func TestValidateBoundaryIsInclusive(t *testing.T) {
	v := NewValidator(100, []string{".png"})
	assert.NoError(t, v.Validate(api.FileAttachment{Filename: "x.png", Size: 100}))
	assert.Error(t, v.Validate(api.FileAttachment{Filename: "x.png", Size: 101}))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".docx", Extension("My File.DOCX"))
	assert.Equal(t, "", Extension("README"))
}
