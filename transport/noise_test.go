package transport

import (
	"bytes"
	"testing"

	"github.com/flynn/noise"
)

// newResponder builds a bare noise.HandshakeState playing the server role,
// used only to exercise the client-side handshake type in this package
// without a real WebSocket server.
func newResponder(t *testing.T, staticKeypair noise.DHKey) *noise.HandshakeState {
	t.Helper()
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     false,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		t.Fatalf("responder handshake state: %v", err)
	}
	return hs
}

func TestHandshakeFullExchange(t *testing.T) {
	clientStatic, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatal(err)
	}
	serverStatic, err := GenerateStaticKeypair()
	if err != nil {
		t.Fatal(err)
	}

	client, err := newHandshake(clientStatic, nil)
	if err != nil {
		t.Fatal(err)
	}
	server := newResponder(t, serverStatic)

	// -> e
	msg1, err := client.writeHello(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := server.ReadMessage(nil, msg1); err != nil {
		t.Fatalf("server read msg1: %v", err)
	}

	// <- e, ee, s, es
	msg2, _, _, err := server.WriteMessage(nil, nil)
	if err != nil {
		t.Fatalf("server write msg2: %v", err)
	}
	if _, err := client.readServerHello(msg2, serverStatic.Public); err != nil {
		t.Fatalf("client read msg2: %v", err)
	}

	// -> s, se
	msg3, clientSend, clientRecv, err := client.finish(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, serverCS1, serverCS2, err := server.ReadMessage(nil, msg3)
	if err != nil {
		t.Fatalf("server read msg3: %v", err)
	}

	plaintext := []byte("hello over the encrypted channel")
	ciphertext := clientSend.encrypt(plaintext)
	// Server's cs1 decrypts what the initiator encrypted with cs1.
	decrypted, err := serverCS1.Decrypt(nil, nil, ciphertext)
	if err != nil {
		t.Fatalf("server decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("got %q, want %q", decrypted, plaintext)
	}

	serverReply := serverCS2.Encrypt(nil, nil, []byte("reply"))
	decryptedReply, err := clientRecv.decrypt(serverReply)
	if err != nil {
		t.Fatalf("client decrypt: %v", err)
	}
	if string(decryptedReply) != "reply" {
		t.Fatalf("got %q, want %q", decryptedReply, "reply")
	}

	if clientSend.Counter() != 1 {
		t.Errorf("clientSend.Counter() = %d, want 1", clientSend.Counter())
	}
	if clientRecv.Counter() != 1 {
		t.Errorf("clientRecv.Counter() = %d, want 1", clientRecv.Counter())
	}
}

func TestHandshakeRejectsWrongServerStatic(t *testing.T) {
	clientStatic, _ := GenerateStaticKeypair()
	serverStatic, _ := GenerateStaticKeypair()
	wrongStatic, _ := GenerateStaticKeypair()

	client, err := newHandshake(clientStatic, nil)
	if err != nil {
		t.Fatal(err)
	}
	server := newResponder(t, serverStatic)

	msg1, _ := client.writeHello(nil)
	_, _, _, _ = server.ReadMessage(nil, msg1)
	msg2, _, _, _ := server.WriteMessage(nil, nil)

	if _, err := client.readServerHello(msg2, wrongStatic.Public); err == nil {
		t.Fatal("expected handshake failure for mismatched server static key")
	}
}

func TestDirectionalCipherCountersIncreaseStrictly(t *testing.T) {
	clientStatic, _ := GenerateStaticKeypair()
	serverStatic, _ := GenerateStaticKeypair()
	client, _ := newHandshake(clientStatic, nil)
	server := newResponder(t, serverStatic)

	msg1, _ := client.writeHello(nil)
	server.ReadMessage(nil, msg1)
	msg2, _, _, _ := server.WriteMessage(nil, nil)
	client.readServerHello(msg2, nil)
	_, send, _, err := client.finish(nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := uint64(1); i <= 5; i++ {
		send.encrypt([]byte("payload"))
		if send.Counter() != i {
			t.Fatalf("after %d sends, counter = %d", i, send.Counter())
		}
	}
}
