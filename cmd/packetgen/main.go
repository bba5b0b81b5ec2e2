// Command packetgen demonstrates the offline signal-packet codec (spec
// §4.2) end to end: it stands up two real rtcpeer.Peer/callctl.Controller
// pairs in one process (a host and a joiner), drives the host's offer
// flow, encodes the offer as transport text, decodes+decrypts it as the
// joiner, drives the joiner's answer flow, and round-trips the answer back
// to the host — the same path a user would perform by hand with copy/
// paste or a QR code, minus the browser UI this spec treats as an
// external collaborator (spec §1).
//
// Grounded on the teacher's cmd/client, cmd/servo, cmd/testclient: small
// flag-driven main.go wrappers around the library packages.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/n0remac/p2pcall/internal/aead"
	"github.com/n0remac/p2pcall/internal/callctl"
	"github.com/n0remac/p2pcall/internal/envelope"
	"github.com/n0remac/p2pcall/internal/failure"
	"github.com/n0remac/p2pcall/internal/rtcpeer"
)

func main() {
	passphrase := flag.String("passphrase", "correct-horse-battery-staple", "shared passphrase")
	roomCode := flag.String("room", "demo-room-1", "offline-mode room code")
	flag.Parse()

	if err := run(*passphrase, *roomCode); err != nil {
		log.Fatalf("packetgen: %v", err)
	}
}

func run(passphrase, roomCode string) error {
	hostTransport, err := rtcpeer.NewPeer(rtcpeer.DefaultConfig())
	if err != nil {
		return fmt.Errorf("create host transport: %w", err)
	}
	defer hostTransport.Close()

	joinerTransport, err := rtcpeer.NewPeer(rtcpeer.DefaultConfig())
	if err != nil {
		return fmt.Errorf("create joiner transport: %w", err)
	}
	defer joinerTransport.Close()

	host, err := callctl.NewHostController(hostTransport, callctl.Options{ClientInfo: "packetgen-host/1.0"})
	if err != nil {
		return fmt.Errorf("create host controller: %w", err)
	}
	defer host.Close()

	joiner := callctl.NewJoinerController(joinerTransport, callctl.Options{ClientInfo: "packetgen-joiner/1.0"})
	defer joiner.Close()

	// Each side of the offline exchange tracks its own brute-force cooldown
	// (spec §7): the joiner is the local attacker surface for the offer
	// packet, the host for the answer packet.
	joinerCooldown := aead.NewCooldown()
	hostCooldown := aead.NewCooldown()

	fmt.Println("=== host: creating offer ===")
	offer, err := host.CreateOffer()
	if err != nil {
		return fmt.Errorf("host create offer: %w", err)
	}

	now := time.Now()
	offerText, err := envelope.EncodeOffer(offer, passphrase, roomCode, now)
	if err != nil {
		return fmt.Errorf("encode offer packet: %w", err)
	}
	fmt.Printf("offer packet: %d bytes, %d chunk(s)\n\n%s\n\n", len(offerText), countChunks(offerText), offerText)

	fmt.Println("=== joiner: decoding offer packet ===")
	receivedOfferEnvelope, err := envelope.Decode(offerText)
	if err != nil {
		return fmt.Errorf("decode offer packet: %w", err)
	}
	receivedOffer, err := envelope.DecryptOffer(receivedOfferEnvelope, roomCode, passphrase, time.Now(), joinerCooldown)
	if err != nil {
		if code, ok := failure.Classify(err); ok {
			return fmt.Errorf("decrypt offer packet: %s", code)
		}
		return fmt.Errorf("decrypt offer packet: %w", err)
	}

	fmt.Println("=== joiner: applying offer, creating answer ===")
	answer, err := joiner.ApplyOffer(receivedOffer)
	if err != nil {
		return fmt.Errorf("joiner apply offer: %w", err)
	}

	answerText, err := envelope.EncodeAnswer(answer, passphrase, roomCode, time.Now())
	if err != nil {
		return fmt.Errorf("encode answer packet: %w", err)
	}
	fmt.Printf("answer packet: %d bytes, %d chunk(s)\n\n%s\n\n", len(answerText), countChunks(answerText), answerText)

	fmt.Println("=== host: decoding answer packet ===")
	receivedAnswerEnvelope, err := envelope.Decode(answerText)
	if err != nil {
		return fmt.Errorf("decode answer packet: %w", err)
	}
	receivedAnswer, err := envelope.DecryptAnswer(receivedAnswerEnvelope, roomCode, passphrase, time.Now(), hostCooldown)
	if err != nil {
		if code, ok := failure.Classify(err); ok {
			return fmt.Errorf("decrypt answer packet: %s", code)
		}
		return fmt.Errorf("decrypt answer packet: %w", err)
	}

	if err := host.ApplyAnswer(receivedAnswer); err != nil {
		return fmt.Errorf("host apply answer: %w", err)
	}

	fmt.Println("=== done: session description and candidates exchanged ===")
	return nil
}

func countChunks(packetText string) int {
	n := 1
	for _, r := range packetText {
		if r == '\n' {
			n++
		}
	}
	return n
}
