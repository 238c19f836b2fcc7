package sassplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImagePTX(t *testing.T) {
	img, err := ParseImage(ptxImage("x", "saxpy", "vectorAdd", "saxpy"))
	require.NoError(t, err)
	assert.Equal(t, FormatPTX, img.Format)
	assert.Equal(t, "sm_86", img.Arch)
	assert.Equal(t, []string{"saxpy", "vectorAdd"}, img.Entries)
}

func TestParseImageCuasm(t *testing.T) {
	src := []byte(`// --------------------- FileHeader --------------------------
	// All file header info is kept as is (unless offset/size attributes)
	// arch = sm_75
	.section .text._Z9vectorAddPKfS0_Pfi,"ax",@progbits
	.type _Z9vectorAddPKfS0_Pfi,@function
	.size _Z9vectorAddPKfS0_Pfi,(.L_x_1 - _Z9vectorAddPKfS0_Pfi)
_Z9vectorAddPKfS0_Pfi:
      [B------:R-:W-:-:S02]         /*0000*/                   MOV R1, c[0x0][0x28] ;
`)
	img, err := ParseImage(src)
	require.NoError(t, err)
	assert.Equal(t, FormatCuasm, img.Format)
	assert.Equal(t, "sm_75", img.Arch)
	assert.Equal(t, []string{"_Z9vectorAddPKfS0_Pfi"}, img.Entries)
}

func TestParseImageRejects(t *testing.T) {
	_, err := ParseImage([]byte("not a kernel"))
	assert.True(t, IsInvalidArgError(err))

	// A truncated ELF surfaces the ELF reader's diagnostic.
	_, err = ParseImage([]byte("\x7fELF\x02\x01"))
	require.Error(t, err)
	assert.False(t, IsInvalidArgError(err))
}

func TestImageFormatString(t *testing.T) {
	assert.Equal(t, "cubin", FormatCubin.String())
	assert.Equal(t, "ptx", FormatPTX.String())
	assert.Equal(t, "cuasm", FormatCuasm.String())
	assert.Equal(t, "unknown", FormatUnknown.String())
}
