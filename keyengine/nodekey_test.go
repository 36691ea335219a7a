package keyengine

import (
	"bytes"
	"testing"

	"cryptdrive.io/core"
	"cryptdrive.io/cryptoimpl"
	"cryptdrive.io/model"
)

type fakeKeySource struct {
	master  []byte
	rsaPriv []byte
}

func (f fakeKeySource) MasterKey() []byte     { return f.master }
func (f fakeKeySource) RSAPrivateKey() []byte { return f.rsaPriv }
func (f fakeKeySource) Self() core.UserHandle { return core.UndefinedUser }

func TestDecryptNodeKeySymmetric(t *testing.T) {
	c := cryptoimpl.New()
	master := bytes.Repeat([]byte{0x01}, 16)
	nodeKey := bytes.Repeat([]byte{0x02}, 16)

	ct, err := c.AESECBEncrypt(master, nodeKey)
	if err != nil {
		t.Fatalf("AESECBEncrypt: %v", err)
	}
	encoded := nodeKeyEncoding.EncodeToString(ct)

	res, err := DecryptNodeKey(c, encoded, master, nil)
	if err != nil {
		t.Fatalf("DecryptNodeKey: %v", err)
	}
	if !bytes.Equal(res.Key, nodeKey) {
		t.Fatalf("decrypted key = %x, want %x", res.Key, nodeKey)
	}
	if res.RewriteQueued {
		t.Fatalf("symmetric decrypt should not queue a rewrite")
	}
}

func TestDecryptNodeKeyWrongKeyIsWarningNotPanic(t *testing.T) {
	c := cryptoimpl.New()
	master := bytes.Repeat([]byte{0x01}, 16)
	wrong := bytes.Repeat([]byte{0x09}, 16)
	nodeKey := bytes.Repeat([]byte{0x02}, 16)

	ct, err := c.AESECBEncrypt(master, nodeKey)
	if err != nil {
		t.Fatalf("AESECBEncrypt: %v", err)
	}
	encoded := nodeKeyEncoding.EncodeToString(ct)

	res, err := DecryptNodeKey(c, encoded, wrong, nil)
	if err != nil {
		t.Fatalf("AES-ECB has no integrity check, decrypt should not error: %v", err)
	}
	if bytes.Equal(res.Key, nodeKey) {
		t.Fatalf("decrypting with the wrong key should not reproduce the original key")
	}
}

func TestRewriteQueueDedup(t *testing.T) {
	q := NewRewriteQueue()
	q.Enqueue(core.NodeHandle(1))
	q.Enqueue(core.NodeHandle(1))
	q.Enqueue(core.NodeHandle(2))
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain() = %v, want 2 items", drained)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after Drain() = %d, want 0", q.Len())
	}
}

func TestApplyKeyWalkDecryptsDescendants(t *testing.T) {
	c := cryptoimpl.New()
	master := bytes.Repeat([]byte{0x01}, 16)
	shareKey := bytes.Repeat([]byte{0x03}, 16)
	childKey := bytes.Repeat([]byte{0x04}, 16)

	ct, err := c.AESECBEncrypt(shareKey, childKey)
	if err != nil {
		t.Fatalf("AESECBEncrypt: %v", err)
	}
	encoded := nodeKeyEncoding.EncodeToString(ct)

	tree := model.NewTree()
	tree.PutNode(&model.Node{Handle: 1, Type: core.FOLDER, ShareKey: shareKey})
	tree.PutNode(&model.Node{Handle: 2, Type: core.FILE, Parent: 1, NoKey: true, RawKeyBlob: encoded})

	q := NewRewriteQueue()
	n := ApplyKeyWalk(c, tree, fakeKeySource{master: master}, 1, q)
	if n != 1 {
		t.Fatalf("ApplyKeyWalk decrypted %d nodes, want 1", n)
	}
	child := tree.Node(2)
	if child.NoKey {
		t.Fatalf("child should no longer be NoKey")
	}
	if !bytes.Equal(child.Key, childKey) {
		t.Fatalf("child key = %x, want %x", child.Key, childKey)
	}
}
