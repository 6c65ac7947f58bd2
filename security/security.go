package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"pdfua/ir/raw"
)

// DataClass identifies the kind of payload being decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// Handler decrypts document payloads and reports permissions.
type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Permissions() raw.Permissions
	EncryptMetadata() bool
}

// ErrWrongPassword is returned when authentication fails.
var ErrWrongPassword = errors.New("security: password does not match")

// ErrUnsupportedHandler is returned for non-standard security handlers.
var ErrUnsupportedHandler = errors.New("security: unsupported security handler")

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool            { return false }
func (noEncryptionHandler) Authenticate(string) error    { return nil }
func (noEncryptionHandler) Permissions() raw.Permissions { return raw.AllPermissions() }
func (noEncryptionHandler) EncryptMetadata() bool        { return false }
func (noEncryptionHandler) Decrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}

// NoopHandler returns a handler for unencrypted documents.
func NoopHandler() Handler { return noEncryptionHandler{} }

type cryptMethod int

const (
	cryptRC4 cryptMethod = iota
	cryptAESV2
	cryptAESV3
)

// standardHandler implements the standard security handler, revisions 2-6.
type standardHandler struct {
	revision    int
	length      int // key length in bytes
	method      cryptMethod
	perms       raw.Permissions
	pValue      int64
	oEntry      []byte
	uEntry      []byte
	oe, ue      []byte
	fileID      []byte
	encryptMeta bool
	fileKey     []byte
	authorized  bool
}

// HandlerBuilder assembles a Handler from the /Encrypt dictionary and trailer.
type HandlerBuilder struct {
	encryptDict raw.Dictionary
	fileID      []byte
}

func (b *HandlerBuilder) WithEncryptDict(d raw.Dictionary) *HandlerBuilder {
	b.encryptDict = d
	return b
}
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder { b.fileID = id; return b }

func (b *HandlerBuilder) Build() (Handler, error) {
	if b.encryptDict == nil {
		return noEncryptionHandler{}, nil
	}
	if f := raw.DictGetName(b.encryptDict, "Filter"); f != "" && f != "Standard" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHandler, f)
	}
	h := &standardHandler{encryptMeta: true, fileID: b.fileID}
	v, _ := raw.DictGetInt(b.encryptDict, "V")
	r, _ := raw.DictGetInt(b.encryptDict, "R")
	h.revision = int(r)
	h.length = 5
	if l, ok := raw.DictGetInt(b.encryptDict, "Length"); ok {
		h.length = int(l) / 8
	}
	switch {
	case v <= 2:
		h.method = cryptRC4
	case v == 4 || v == 5:
		cfm := cryptFilterMethod(b.encryptDict)
		switch cfm {
		case "AESV2":
			h.method = cryptAESV2
			h.length = 16
		case "AESV3":
			h.method = cryptAESV3
			h.length = 32
		case "V2", "":
			h.method = cryptRC4
		default:
			return nil, fmt.Errorf("%w: crypt filter %s", ErrUnsupportedHandler, cfm)
		}
	default:
		return nil, fmt.Errorf("%w: V=%d", ErrUnsupportedHandler, v)
	}
	if em, ok := raw.DictGetBool(b.encryptDict, "EncryptMetadata"); ok {
		h.encryptMeta = em
	}
	if p, ok := raw.DictGetInt(b.encryptDict, "P"); ok {
		h.pValue = int64(int32(p))
		h.perms = raw.PermissionsFromP(h.pValue)
	}
	if o, ok := raw.DictGetString(b.encryptDict, "O"); ok {
		h.oEntry = o
	}
	if u, ok := raw.DictGetString(b.encryptDict, "U"); ok {
		h.uEntry = u
	}
	if oe, ok := raw.DictGetString(b.encryptDict, "OE"); ok {
		h.oe = oe
	}
	if ue, ok := raw.DictGetString(b.encryptDict, "UE"); ok {
		h.ue = ue
	}
	return h, nil
}

func cryptFilterMethod(d raw.Dictionary) string {
	cfObj, ok := d.Get(raw.NameLiteral("CF"))
	if !ok {
		return ""
	}
	cf, ok := cfObj.(raw.Dictionary)
	if !ok {
		return ""
	}
	stmf := raw.DictGetName(d, "StmF")
	if stmf == "" {
		stmf = "StdCF"
	}
	fObj, ok := cf.Get(raw.NameLiteral(stmf))
	if !ok {
		return ""
	}
	fDict, ok := fObj.(raw.Dictionary)
	if !ok {
		return ""
	}
	return raw.DictGetName(fDict, "CFM")
}

func (h *standardHandler) IsEncrypted() bool            { return true }
func (h *standardHandler) Permissions() raw.Permissions { return h.perms }
func (h *standardHandler) EncryptMetadata() bool        { return h.encryptMeta }

var passwordPad = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pwd)
	copy(out[n:], passwordPad)
	return out
}

// Authenticate verifies the user password (empty by default) and computes
// the file key. Owner-password authentication is not attempted.
func (h *standardHandler) Authenticate(password string) error {
	if h.revision >= 5 {
		return h.authenticateV5([]byte(password))
	}
	return h.authenticateLegacy([]byte(password))
}

func (h *standardHandler) authenticateLegacy(pwd []byte) error {
	key := h.legacyFileKey(pwd)
	switch h.revision {
	case 2:
		c, _ := rc4.NewCipher(key)
		u := make([]byte, 32)
		c.XORKeyStream(u, passwordPad)
		if !bytes.Equal(u, h.uEntry) {
			return ErrWrongPassword
		}
	default: // revisions 3 and 4
		sum := md5.Sum(append(append([]byte{}, passwordPad...), h.fileID...))
		u := sum[:]
		for i := 0; i <= 19; i++ {
			k := make([]byte, len(key))
			for j := range key {
				k[j] = key[j] ^ byte(i)
			}
			c, _ := rc4.NewCipher(k)
			c.XORKeyStream(u, u)
		}
		if len(h.uEntry) < 16 || !bytes.Equal(u[:16], h.uEntry[:16]) {
			return ErrWrongPassword
		}
	}
	h.fileKey = key
	h.authorized = true
	return nil
}

func (h *standardHandler) legacyFileKey(pwd []byte) []byte {
	md := md5.New()
	md.Write(padPassword(pwd))
	md.Write(h.oEntry)
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(h.pValue))
	md.Write(p[:])
	md.Write(h.fileID)
	if h.revision >= 4 && !h.encryptMeta {
		md.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	sum := md.Sum(nil)
	n := h.length
	if h.revision == 2 {
		n = 5
	}
	if n > 16 {
		n = 16
	}
	if h.revision >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(sum[:n])
			sum = s[:]
		}
	}
	return sum[:n]
}

func (h *standardHandler) authenticateV5(pwd []byte) error {
	if len(h.uEntry) < 48 || len(h.ue) < 32 {
		return errors.New("security: malformed V5 encryption dictionary")
	}
	validationSalt := h.uEntry[32:40]
	keySalt := h.uEntry[40:48]
	var hash []byte
	if h.revision == 5 {
		s := sha256.Sum256(append(append([]byte{}, pwd...), validationSalt...))
		hash = s[:]
	} else {
		hash = hash2B(pwd, validationSalt, nil)
	}
	if !bytes.Equal(hash, h.uEntry[:32]) {
		return ErrWrongPassword
	}
	var ikey []byte
	if h.revision == 5 {
		s := sha256.Sum256(append(append([]byte{}, pwd...), keySalt...))
		ikey = s[:]
	} else {
		ikey = hash2B(pwd, keySalt, nil)
	}
	block, err := aes.NewCipher(ikey)
	if err != nil {
		return err
	}
	fileKey := make([]byte, 32)
	iv := make([]byte, 16)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(fileKey, h.ue[:32])
	h.fileKey = fileKey
	h.authorized = true
	return nil
}

// hash2B implements ISO 32000-2 Algorithm 2.B (revision 6 password hash).
func hash2B(pwd, salt, udata []byte) []byte {
	k := sha256.Sum256(append(append(append([]byte{}, pwd...), salt...), udata...))
	key := k[:]
	for round := 0; ; round++ {
		unit := append(append(append([]byte{}, pwd...), key...), udata...)
		k1 := make([]byte, 0, len(unit)*64)
		for i := 0; i < 64; i++ {
			k1 = append(k1, unit...)
		}
		block, _ := aes.NewCipher(key[:16])
		e := make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, key[16:32]).CryptBlocks(e, k1)
		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		switch sum % 3 {
		case 0:
			s := sha256.Sum256(e)
			key = s[:]
		case 1:
			s := sha512.Sum384(e)
			key = s[:]
		case 2:
			s := sha512.Sum512(e)
			key = s[:]
		}
		if round >= 63 && int(e[len(e)-1]) <= round-32 {
			return key[:32]
		}
	}
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	if !h.authorized {
		return nil, errors.New("security: not authenticated")
	}
	if class == DataClassMetadataStream && !h.encryptMeta {
		return data, nil
	}
	switch h.method {
	case cryptAESV3:
		return aesCBCDecrypt(h.fileKey, data)
	case cryptAESV2:
		return aesCBCDecrypt(h.objectKey(objNum, gen, true), data)
	default:
		c, err := rc4.NewCipher(h.objectKey(objNum, gen, false))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(data))
		c.XORKeyStream(out, data)
		return out, nil
	}
}

func (h *standardHandler) objectKey(objNum, gen int, aesSalt bool) []byte {
	md := md5.New()
	md.Write(h.fileKey)
	md.Write([]byte{byte(objNum), byte(objNum >> 8), byte(objNum >> 16), byte(gen), byte(gen >> 8)})
	if aesSalt {
		md.Write([]byte{0x73, 0x41, 0x6C, 0x54}) // "sAlT"
	}
	sum := md.Sum(nil)
	n := len(h.fileKey) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func aesCBCDecrypt(key, data []byte) ([]byte, error) {
	if len(data) < 16 || len(data)%16 != 0 {
		return nil, errors.New("security: AES payload not block aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := data[:16]
	out := make([]byte, len(data)-16)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data[16:])
	// strip PKCS#7 padding
	if len(out) > 0 {
		pad := int(out[len(out)-1])
		if pad >= 1 && pad <= 16 && pad <= len(out) {
			out = out[:len(out)-pad]
		}
	}
	return out, nil
}
