package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"testing"

	"pdfua/ir/raw"
)

func TestNoopHandler(t *testing.T) {
	h := NoopHandler()
	if h.IsEncrypted() {
		t.Error("noop handler reports encrypted")
	}
	if err := h.Authenticate("anything"); err != nil {
		t.Errorf("Authenticate: %v", err)
	}
	data := []byte("payload")
	out, err := h.Decrypt(1, 0, data, DataClassStream)
	if err != nil || !bytes.Equal(out, data) {
		t.Errorf("Decrypt = %q, %v", out, err)
	}
	if !h.Permissions().ExtractAccessible {
		t.Error("noop handler should permit everything")
	}
}

func TestBuilderWithoutDict(t *testing.T) {
	h, err := (&HandlerBuilder{}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if h.IsEncrypted() {
		t.Error("missing encrypt dict should yield the noop handler")
	}
}

func TestBuilderUnsupportedFilter(t *testing.T) {
	d := raw.Dict()
	d.Set(raw.NameLiteral("Filter"), raw.NameLiteral("Custom"))
	if _, err := (&HandlerBuilder{}).WithEncryptDict(d).Build(); !errors.Is(err, ErrUnsupportedHandler) {
		t.Errorf("err = %v, want unsupported handler", err)
	}
}

// rev2Dict builds a revision 2 encryption dictionary whose /U entry matches
// the given user password, following the standard key derivation.
func rev2Dict(pwd string, perms raw.Permissions, fileID []byte) *raw.DictObj {
	o := bytes.Repeat([]byte{0xAB}, 32)
	pValue := int64(int32(perms.P()))

	md := md5.New()
	md.Write(padPassword([]byte(pwd)))
	md.Write(o)
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(pValue))
	md.Write(p[:])
	md.Write(fileID)
	key := md.Sum(nil)[:5]

	u := make([]byte, 32)
	c, _ := rc4.NewCipher(key)
	c.XORKeyStream(u, passwordPad)

	d := raw.Dict()
	d.Set(raw.NameLiteral("Filter"), raw.NameLiteral("Standard"))
	d.Set(raw.NameLiteral("V"), raw.NumberInt(1))
	d.Set(raw.NameLiteral("R"), raw.NumberInt(2))
	d.Set(raw.NameLiteral("Length"), raw.NumberInt(40))
	d.Set(raw.NameLiteral("P"), raw.NumberInt(pValue))
	d.Set(raw.NameLiteral("O"), raw.Str(o))
	d.Set(raw.NameLiteral("U"), raw.Str(u))
	return d
}

func TestAuthenticateRev2(t *testing.T) {
	perms := raw.Permissions{Print: true, Copy: true}
	fileID := []byte("0123456789abcdef")
	d := rev2Dict("secret", perms, fileID)

	h, err := (&HandlerBuilder{}).WithEncryptDict(d).WithFileID(fileID).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !h.IsEncrypted() {
		t.Fatal("standard handler should report encrypted")
	}
	if err := h.Authenticate("secret"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	got := h.Permissions()
	if !got.Print || !got.Copy || got.ExtractAccessible {
		t.Errorf("permissions = %+v", got)
	}

	// RC4 is symmetric, so decrypting twice must round-trip
	plain := []byte("stream payload bytes")
	ct, err := h.Decrypt(3, 0, plain, DataClassStream)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if bytes.Equal(ct, plain) {
		t.Fatal("cipher output equals input")
	}
	pt, err := h.Decrypt(3, 0, ct, DataClassStream)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(pt, plain) {
		t.Errorf("round trip = %q, want %q", pt, plain)
	}

	// different object numbers use different keys
	other, err := h.Decrypt(4, 0, plain, DataClassStream)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if bytes.Equal(other, ct) {
		t.Error("object key does not depend on the object number")
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	d := rev2Dict("secret", raw.Permissions{}, fileID)
	h, err := (&HandlerBuilder{}).WithEncryptDict(d).WithFileID(fileID).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := h.Authenticate("wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("err = %v, want wrong password", err)
	}
}

func TestDecryptRequiresAuthentication(t *testing.T) {
	h := &standardHandler{method: cryptRC4}
	if _, err := h.Decrypt(1, 0, []byte("x"), DataClassStream); err == nil {
		t.Fatal("expected error before authentication")
	}
}

func TestBuilderCryptFilter(t *testing.T) {
	d := raw.Dict()
	d.Set(raw.NameLiteral("Filter"), raw.NameLiteral("Standard"))
	d.Set(raw.NameLiteral("V"), raw.NumberInt(4))
	d.Set(raw.NameLiteral("R"), raw.NumberInt(4))
	cf := raw.Dict()
	stdCF := raw.Dict()
	stdCF.Set(raw.NameLiteral("CFM"), raw.NameLiteral("AESV2"))
	cf.Set(raw.NameLiteral("StdCF"), stdCF)
	d.Set(raw.NameLiteral("CF"), cf)

	h, err := (&HandlerBuilder{}).WithEncryptDict(d).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sh := h.(*standardHandler)
	if sh.method != cryptAESV2 || sh.length != 16 {
		t.Errorf("method = %v length = %d", sh.method, sh.length)
	}

	stdCF.Set(raw.NameLiteral("CFM"), raw.NameLiteral("Weird"))
	if _, err := (&HandlerBuilder{}).WithEncryptDict(d).Build(); !errors.Is(err, ErrUnsupportedHandler) {
		t.Errorf("err = %v, want unsupported handler", err)
	}
}

func TestAESV3Decrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	plain := []byte("tagged content stream data")

	// pad to a block boundary and encrypt with a leading IV
	padLen := 16 - len(plain)%16
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)
	iv := bytes.Repeat([]byte{0x07}, 16)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	payload := append(append([]byte{}, iv...), ct...)

	h := &standardHandler{method: cryptAESV3, fileKey: key, authorized: true}
	out, err := h.Decrypt(9, 0, payload, DataClassStream)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Errorf("decrypted = %q, want %q", out, plain)
	}

	if _, err := h.Decrypt(9, 0, []byte("short"), DataClassStream); err == nil {
		t.Error("unaligned payload should fail")
	}
}

func TestMetadataPassthroughWhenUnencrypted(t *testing.T) {
	h := &standardHandler{method: cryptAESV2, authorized: true, encryptMeta: false}
	data := []byte("<?xpacket?>")
	out, err := h.Decrypt(2, 0, data, DataClassMetadataStream)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("metadata should pass through when EncryptMetadata is false")
	}
}
