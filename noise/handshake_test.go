package noise

import (
	"testing"

	"github.com/opd-ai/noisenet/crypto"
)

func mustKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

// Test input validation
func TestNewXKHandshakeValidation(t *testing.T) {
	kp := mustKeyPair(t)

	if _, err := NewXKHandshake(nil, nil, Responder); err == nil {
		t.Error("Expected error for missing local key pair")
	}
	if _, err := NewXKHandshake(kp, nil, Initiator); err == nil {
		t.Error("Expected error for initiator without remote static key")
	}
	if _, err := NewXKHandshake(kp, nil, Responder); err != nil {
		t.Errorf("Unexpected error for responder without remote key: %v", err)
	}
}

// Test complete XK handshake flow
func TestXKHandshakeFlow(t *testing.T) {
	initiatorKeys := mustKeyPair(t)
	responderKeys := mustKeyPair(t)

	initiator, err := NewXKHandshake(initiatorKeys, &responderKeys.Public, Initiator)
	if err != nil {
		t.Fatalf("Failed to create initiator: %v", err)
	}
	responder, err := NewXKHandshake(responderKeys, nil, Responder)
	if err != nil {
		t.Fatalf("Failed to create responder: %v", err)
	}

	if !initiator.WriteTurn() || responder.WriteTurn() {
		t.Fatal("Initiator must write the first message")
	}

	msg1, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("Initiator message 1 failed: %v", err)
	}
	if _, err := responder.ReadMessage(msg1); err != nil {
		t.Fatalf("Responder read 1 failed: %v", err)
	}

	msg2, err := responder.WriteMessage([]byte("from responder"))
	if err != nil {
		t.Fatalf("Responder message 2 failed: %v", err)
	}
	payload, err := initiator.ReadMessage(msg2)
	if err != nil {
		t.Fatalf("Initiator read 2 failed: %v", err)
	}
	if string(payload) != "from responder" {
		t.Errorf("Payload = %q", payload)
	}

	if _, err := responder.RemoteStatic(); err == nil {
		t.Error("Responder must not know the initiator key before message 3")
	}

	msg3, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("Initiator message 3 failed: %v", err)
	}
	if !initiator.IsComplete() {
		t.Error("Initiator should be complete after message 3")
	}
	if _, err := responder.ReadMessage(msg3); err != nil {
		t.Fatalf("Responder read 3 failed: %v", err)
	}
	if !responder.IsComplete() {
		t.Error("Responder should be complete after message 3")
	}

	remote, err := responder.RemoteStatic()
	if err != nil {
		t.Fatal(err)
	}
	if remote != initiatorKeys.Public {
		t.Error("Responder learned the wrong initiator key")
	}
	if err := initiator.VerifyRemote(); err != nil {
		t.Errorf("VerifyRemote: %v", err)
	}

	iSend, iRecv, err := initiator.GetCipherStates()
	if err != nil {
		t.Fatal(err)
	}
	rSend, rRecv, err := responder.GetCipherStates()
	if err != nil {
		t.Fatal(err)
	}

	ct, err := iSend.Encrypt(nil, nil, []byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := rRecv.Decrypt(nil, nil, ct)
	if err != nil || string(pt) != "ping" {
		t.Fatalf("responder decrypt = %q, %v", pt, err)
	}

	ct, err = rSend.Encrypt(nil, nil, []byte("pong"))
	if err != nil {
		t.Fatal(err)
	}
	pt, err = iRecv.Decrypt(nil, nil, ct)
	if err != nil || string(pt) != "pong" {
		t.Fatalf("initiator decrypt = %q, %v", pt, err)
	}

	if _, err := initiator.WriteMessage(nil); err != ErrHandshakeComplete {
		t.Errorf("WriteMessage after completion = %v, want ErrHandshakeComplete", err)
	}
}

// An initiator holding the wrong responder key cannot get past message 1.
func TestXKHandshakeWrongRemoteKey(t *testing.T) {
	responderKeys := mustKeyPair(t)
	wrong := mustKeyPair(t)

	initiator, err := NewXKHandshake(mustKeyPair(t), &wrong.Public, Initiator)
	if err != nil {
		t.Fatal(err)
	}
	responder, err := NewXKHandshake(responderKeys, nil, Responder)
	if err != nil {
		t.Fatal(err)
	}

	msg1, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := responder.ReadMessage(msg1); err == nil {
		t.Fatal("Responder accepted a message encrypted to another key")
	}
}

func TestXKHandshakeTurnEnforced(t *testing.T) {
	responder, err := NewXKHandshake(mustKeyPair(t), nil, Responder)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := responder.WriteMessage(nil); err == nil {
		t.Error("Responder wrote out of turn")
	}
	if _, _, err := responder.GetCipherStates(); err != ErrHandshakeNotComplete {
		t.Errorf("GetCipherStates = %v, want ErrHandshakeNotComplete", err)
	}
}
