// Package su3 implements the signed SU3 bootstrap container (§2 C11):
// parsing, signer-certificate verification, and the reseed flow that
// fills an empty netDb from a SU3 file's zipped RouterInfos.
package su3

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// magic is the fixed SU3 file preamble.
var magic = []byte("I2Psu3")

// SigType identifies the SU3 signature algorithm. The values are the
// wire constants; only the RSA family is accepted for reseed signers.
type SigType uint16

const (
	SigTypeDSASHA1       SigType = 0x0000
	SigTypeECDSAP256     SigType = 0x0001
	SigTypeECDSAP384     SigType = 0x0002
	SigTypeECDSAP521     SigType = 0x0003
	SigTypeRSASHA2562048 SigType = 0x0004
	SigTypeRSASHA3843072 SigType = 0x0005
	SigTypeRSASHA5124096 SigType = 0x0006
)

// FileType identifies the content container format.
type FileType uint8

const (
	FileTypeZip FileType = 0x00
)

// ContentType identifies what the content carries.
type ContentType uint8

const (
	ContentTypeUnknown      ContentType = 0x00
	ContentTypeRouterUpdate ContentType = 0x01
	ContentTypePlugin       ContentType = 0x02
	ContentTypeReseed       ContentType = 0x03
)

// headerFixedSize is the byte count before the variable version,
// signer ID, content, and signature fields.
const headerFixedSize = 40

// minVersionLength is the padded minimum of the version field.
const minVersionLength = 16

// File is a parsed SU3 container.
type File struct {
	SigType     SigType
	FileType    FileType
	ContentType ContentType
	Version     string
	SignerID    string
	Content     []byte
	Signature   []byte

	// signedRegion is everything the signature covers: the raw bytes
	// from the magic through the end of the content.
	signedRegion []byte
}

// Parse decodes an SU3 container from buf, validating structure but
// not the signature; Verify is the signer store's job.
func Parse(buf []byte) (*File, error) {
	if len(buf) < headerFixedSize {
		return nil, fmt.Errorf("su3: file too short: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[0:6], magic) {
		return nil, fmt.Errorf("su3: bad magic")
	}
	// buf[6] unused, buf[7] format version (0).
	if buf[7] != 0 {
		return nil, fmt.Errorf("su3: unsupported format version %d", buf[7])
	}

	f := &File{SigType: SigType(binary.BigEndian.Uint16(buf[8:10]))}
	sigLen := int(binary.BigEndian.Uint16(buf[10:12]))
	versionLen := int(buf[13])
	if versionLen < minVersionLength {
		return nil, fmt.Errorf("su3: version length %d below minimum %d", versionLen, minVersionLength)
	}
	signerLen := int(buf[15])
	contentLen := binary.BigEndian.Uint64(buf[16:24])
	f.FileType = FileType(buf[25])
	f.ContentType = ContentType(buf[27])
	// buf[28:40] reserved.

	off := headerFixedSize
	need := off + versionLen + signerLen
	if len(buf) < need {
		return nil, fmt.Errorf("su3: truncated before content")
	}
	f.Version = string(bytes.TrimRight(buf[off:off+versionLen], "\x00"))
	off += versionLen
	f.SignerID = string(buf[off : off+signerLen])
	off += signerLen

	if uint64(len(buf)) < uint64(off)+contentLen {
		return nil, fmt.Errorf("su3: declared content length %d exceeds remaining %d", contentLen, len(buf)-off)
	}
	f.Content = buf[off : off+int(contentLen)]
	off += int(contentLen)
	f.signedRegion = buf[:off]

	if len(buf) < off+sigLen {
		return nil, fmt.Errorf("su3: truncated signature: want %d bytes, have %d", sigLen, len(buf)-off)
	}
	f.Signature = buf[off : off+sigLen]
	return f, nil
}
