package linkcodec

import (
	"bytes"
	"testing"

	"cryptdrive.io/cryptoimpl"
)

func TestPublicLinkURLFileForm(t *testing.T) {
	ph := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	key := []byte{
		0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	}
	got := PublicLinkURL(ph, key, true)
	want := "https://mega.nz/file/AQIDBAU#AAECAwQFBgcICQoLDA0ODw"
	if got != want {
		t.Fatalf("PublicLinkURL = %q, want %q", got, want)
	}
}

func TestPublicLinkURLFolderForm(t *testing.T) {
	ph := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	key := []byte{0x00}
	got := PublicLinkURL(ph, key, false)
	if got[:len("https://mega.nz/folder/")] != "https://mega.nz/folder/" {
		t.Fatalf("PublicLinkURL folder form = %q", got)
	}
}

func TestParseLegacyFileLink(t *testing.T) {
	link := LegacyLinkURL([]byte{0, 1, 2, 3, 4, 5}, []byte{9, 9, 9, 9}, true)
	p, err := Parse(link)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.IsFile {
		t.Fatalf("expected file link")
	}
	if !bytes.Equal(p.Key, []byte{9, 9, 9, 9}) {
		t.Fatalf("key = %x, want 09090909", p.Key)
	}
}

func TestParseNewFolderLink(t *testing.T) {
	link := PublicLinkURL([]byte{0, 1, 2, 3, 4, 5}, []byte{7, 7}, false)
	p, err := Parse(link)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.IsFile {
		t.Fatalf("expected folder link")
	}
}

func TestParseRejectsUnrecognizedForm(t *testing.T) {
	if _, err := Parse("https://example.com/not-a-link"); err == nil {
		t.Fatalf("expected error for unrecognized link form")
	}
}

// TestPasswordLinkRoundTrip exercises the P! blob format end to end: build
// a link with EncryptLink, then recover ph/key with DecryptLink and render
// the resulting URL, for both algorithm variants (§6.2).
func TestPasswordLinkRoundTrip(t *testing.T) {
	c := cryptoimpl.New()
	password := []byte("correct horse battery staple")
	salt := make([]byte, 32)
	ph := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x00}
	key := []byte{
		0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	}

	for _, algo := range []Algorithm{AlgorithmHashThenKey, AlgorithmKeyThenHash} {
		blob, err := EncryptLink(c, algo, true, ph, key, password, salt)
		if err != nil {
			t.Fatalf("algo %d: EncryptLink: %v", algo, err)
		}
		gotPh, gotKey, isFile, err := DecryptLink(c, blob, password)
		if err != nil {
			t.Fatalf("algo %d: DecryptLink: %v", algo, err)
		}
		if !isFile {
			t.Fatalf("algo %d: isFile = false, want true", algo)
		}
		if !bytes.Equal(gotKey, key) {
			t.Fatalf("algo %d: key = %x, want %x", algo, gotKey, key)
		}
		url := PublicLinkURL(gotPh[:5], gotKey, isFile)
		want := "https://mega.nz/file/AQIDBAU#AAECAwQFBgcICQoLDA0ODw"
		if url != want {
			t.Fatalf("algo %d: url = %q, want %q", algo, url, want)
		}
	}
}

func TestPasswordLinkWrongPasswordFailsMAC(t *testing.T) {
	c := cryptoimpl.New()
	salt := make([]byte, 32)
	ph := []byte{1, 2, 3, 4, 5, 6}
	key := bytes.Repeat([]byte{0xaa}, 16)

	blob, err := EncryptLink(c, AlgorithmHashThenKey, true, ph, key, []byte("right password"), salt)
	if err != nil {
		t.Fatalf("EncryptLink: %v", err)
	}
	if _, _, _, err := DecryptLink(c, blob, []byte("wrong password")); err == nil {
		t.Fatalf("expected MAC mismatch error with wrong password")
	}
}
