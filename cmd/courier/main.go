package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courierlink/courier/internal/cache"
	"github.com/courierlink/courier/internal/client"
	"github.com/courierlink/courier/internal/config"
	"github.com/courierlink/courier/internal/crypto"
	"github.com/courierlink/courier/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fatal(fmt.Errorf("load config: %w", err))
		}
		cfg = config.Default()
	}

	c := client.New(cfg.Client.ServerURL, cfg.Client.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "register":
		cmdRegister(ctx, c, cfg, args[1:])
	case "devices":
		cmdDevices(ctx, c, *jsonFlag)
	case "remove":
		requireArgs(args, 2, "courier remove <device-id>")
		cmdRemove(ctx, c, args[1])
	case "unpair":
		requireArgs(args, 2, "courier unpair <device-id>")
		cmdUnpair(ctx, c, args[1])
	case "pair":
		cmdPair(ctx, c, cfg, profileName)
	case "scan":
		requireArgs(args, 2, "courier scan <session-id>")
		cmdScan(ctx, c, args[1])
	case "complete":
		requireArgs(args, 2, "courier complete <session-id>")
		cmdComplete(ctx, c, cfg, profileName, args[1])
	case "send":
		requireArgs(args, 3, "courier send <peer-device-id> <text>")
		cmdSend(ctx, c, cfg, profileName, args[1], args[2])
	case "conversations":
		cmdConversations(profileName, *jsonFlag)
	case "messages":
		requireArgs(args, 2, "courier messages <peer-device-id>")
		cmdMessages(profileName, args[1], *jsonFlag)
	case "pending":
		cmdPending(ctx, c, cfg, *jsonFlag)
	case "listen":
		cmdListen(c, cfg, profileName)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: courier [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  register <role> <name>      Register this device (role: mobile|terminal)")
	fmt.Fprintln(os.Stderr, "  devices                     List devices")
	fmt.Fprintln(os.Stderr, "  remove <device-id>          Delete a device")
	fmt.Fprintln(os.Stderr, "  unpair <device-id>          Deactivate a device's pairings")
	fmt.Fprintln(os.Stderr, "  pair                        Start pairing; shows a QR code to scan")
	fmt.Fprintln(os.Stderr, "  scan <session-id>           Mark a pairing session as scanned")
	fmt.Fprintln(os.Stderr, "  complete <session-id>       Confirm a scanned pairing (mobile side)")
	fmt.Fprintln(os.Stderr, "  send <device-id> <text>     Encrypt and send a message")
	fmt.Fprintln(os.Stderr, "  conversations               List cached conversations")
	fmt.Fprintln(os.Stderr, "  messages <device-id>        Show cached messages with a peer")
	fmt.Fprintln(os.Stderr, "  pending                     List undelivered messages on the relay")
	fmt.Fprintln(os.Stderr, "  listen                      Stream events and keep the cache in sync")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

// openCache opens the profile's local cache, migrating it on first use.
func openCache(profileName string) *cache.DB {
	if err := profile.EnsureDir(profileName); err != nil {
		fatal(err)
	}
	db, err := cache.Open(profile.CacheDBPath(profileName))
	if err != nil {
		fatal(err)
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		fatal(err)
	}
	return db
}

// deviceID returns the configured device id or exits with guidance.
func deviceID(cfg *config.Config) string {
	if cfg.Client.DeviceID == "" {
		fatal(errors.New("no device configured: run 'courier register' and set device_id in config"))
	}
	return cfg.Client.DeviceID
}

func cmdRegister(ctx context.Context, c *client.Client, cfg *config.Config, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: courier register <mobile|terminal> <name>")
		os.Exit(1)
	}
	d, err := c.RegisterDevice(ctx, args[1], args[0])
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Registered %s device %q\n", d.Role, d.Name)
	fmt.Printf("Device ID: %s\n", d.ID)

	if cfg.Client.DeviceID == "" {
		cfg.Client.DeviceID = d.ID
		if err := config.Save(profile.ConfigPath(), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save config: %v\n", err)
			return
		}
		fmt.Println("Saved as this profile's device.")
	}
}

func cmdDevices(ctx context.Context, c *client.Client, jsonOut bool) {
	devices, err := c.ListDevices(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(devices)
		return
	}
	if len(devices) == 0 {
		fmt.Println("No devices registered.")
		return
	}
	for _, d := range devices {
		fmt.Printf("%-36s  %-8s  %s\n", d.ID, d.Role, d.Name)
	}
}

func cmdRemove(ctx context.Context, c *client.Client, id string) {
	if err := c.DeleteDevice(ctx, id); err != nil {
		fatal(err)
	}
	fmt.Printf("Device %s deleted.\n", id)
}

func cmdUnpair(ctx context.Context, c *client.Client, id string) {
	if err := c.Unpair(ctx, id); err != nil {
		fatal(err)
	}
	fmt.Printf("Device %s unpaired.\n", id)
}

// cmdPair runs the terminal side of the handshake: create a session,
// display its payload as a QR code and poll until the mobile side
// confirms or the session expires.
func cmdPair(ctx context.Context, c *client.Client, cfg *config.Config, profileName string) {
	termID := deviceID(cfg)
	session, err := c.InitiatePairing(ctx, termID)
	if err != nil {
		fatal(err)
	}

	payload, err := json.Marshal(session.Payload)
	if err != nil {
		fatal(err)
	}
	fmt.Println("Scan this code with your mobile device:")
	fmt.Println()
	fmt.Println(renderQR(string(payload)))
	fmt.Printf("Session: %s (expires %s)\n", session.SessionID, time.UnixMilli(session.ExpiresAt).Format(time.Kitchen))
	fmt.Println("Waiting for confirmation...")

	// Poll until the session's own deadline, not the command timeout.
	pollCtx, cancel := context.WithDeadline(context.Background(), time.UnixMilli(session.ExpiresAt).Add(5*time.Second))
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	scannedShown := false
	for {
		select {
		case <-pollCtx.Done():
			fatal(errors.New("timed out waiting for pairing"))
		case <-ticker.C:
		}

		st, err := c.GetPairingStatus(pollCtx, session.SessionID)
		if err != nil {
			fatal(err)
		}
		switch st.Status {
		case "scanned":
			if !scannedShown {
				fmt.Println("Code scanned, waiting for confirmation...")
				scannedShown = true
			}
		case "completed":
			if st.PeerDevice == nil {
				fatal(errors.New("session completed but no peer device reported"))
			}
			db := openCache(profileName)
			defer func() { _ = db.Close() }()
			if err := db.UpsertPeer(&cache.Peer{
				DeviceID: st.PeerDevice.ID,
				Name:     st.PeerDevice.Name,
				SymKey:   st.PeerDevice.Key,
			}); err != nil {
				fatal(err)
			}
			fmt.Printf("Paired with %s (%s).\n", st.PeerDevice.Name, st.PeerDevice.ID)
			return
		case "expired":
			fatal(errors.New("pairing session expired"))
		}
	}
}

func cmdScan(ctx context.Context, c *client.Client, sessionID string) {
	if err := c.ScanPairing(ctx, sessionID); err != nil {
		fatal(err)
	}
	fmt.Println("Session marked as scanned. Run 'courier complete' to confirm.")
}

// cmdComplete runs the mobile side: generate the shared key, confirm the
// session and remember the terminal as a peer.
func cmdComplete(ctx context.Context, c *client.Client, cfg *config.Config, profileName, sessionID string) {
	mobID := deviceID(cfg)

	key, err := crypto.GenerateKey()
	if err != nil {
		fatal(err)
	}
	res, err := c.CompletePairing(ctx, sessionID, mobID, key)
	if err != nil {
		fatal(err)
	}

	db := openCache(profileName)
	defer func() { _ = db.Close() }()
	if err := db.UpsertPeer(&cache.Peer{
		DeviceID: res.TerminalDeviceID,
		Name:     res.TerminalName,
		SymKey:   res.TerminalKey,
	}); err != nil {
		fatal(err)
	}
	fmt.Printf("Paired with %s (%s).\n", res.TerminalName, res.TerminalDeviceID)
}

func cmdSend(ctx context.Context, c *client.Client, cfg *config.Config, profileName, peerID, text string) {
	db := openCache(profileName)
	defer func() { _ = db.Close() }()

	peer, err := db.GetPeer(peerID)
	if err != nil {
		fatal(err)
	}
	if peer == nil {
		fatal(fmt.Errorf("no shared key for device %s: pair with it first", peerID))
	}

	encrypted, err := crypto.Encrypt([]byte(text), peer.SymKey)
	if err != nil {
		fatal(err)
	}
	m, err := c.SendMessage(ctx, deviceID(cfg), peerID, encrypted, "text")
	if err != nil {
		fatal(err)
	}

	// Record our own plaintext copy.
	if err := db.UpsertMessage(&cache.Message{
		ID:           m.ID,
		PeerDeviceID: peerID,
		Body:         text,
		ContentType:  m.ContentType,
		FromMe:       true,
		Status:       m.Status,
		SentAt:       m.SentAt,
	}); err != nil {
		fatal(err)
	}
	fmt.Printf("Sent %s\n", m.ID)
}

func cmdConversations(profileName string, jsonOut bool) {
	db := openCache(profileName)
	defer func() { _ = db.Close() }()

	convs, err := db.ListConversations()
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return
	}
	for _, conv := range convs {
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", conv.UnreadCount)
		}
		fmt.Printf("%-20s %s  %s%s\n", conv.PeerName,
			time.UnixMilli(conv.LastSentAt).Format("2006-01-02 15:04"),
			conv.LastBody, unread)
	}
}

func cmdMessages(profileName, peerID string, jsonOut bool) {
	db := openCache(profileName)
	defer func() { _ = db.Close() }()

	msgs, err := db.ListMessages(peerID, 50)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		dir := "<-"
		if m.FromMe {
			dir = "->"
		}
		fmt.Printf("%s %s [%s] %s\n", time.UnixMilli(m.SentAt).Format("15:04"), dir, m.Status, m.Body)
	}
}

func cmdPending(ctx context.Context, c *client.Client, cfg *config.Config, jsonOut bool) {
	msgs, err := c.PendingMessages(ctx, deviceID(cfg), "")
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("Nothing pending.")
		return
	}
	for _, m := range msgs {
		fmt.Printf("%-36s  %-9s  from %s\n", m.ID, m.Status, m.SenderDeviceID)
	}
}

func cmdListen(c *client.Client, cfg *config.Config, profileName string) {
	devID := deviceID(cfg)

	if err := profile.EnsureDir(profileName); err != nil {
		fatal(err)
	}
	lock, err := profile.AcquireLock(profile.Dir(profileName))
	if err != nil {
		fatal(err)
	}
	defer func() { _ = lock.Release() }()

	run, err := newListenRunner(c, profileName, devID)
	if err != nil {
		fatal(err)
	}
	defer run.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Listening as device %s (profile %s). Ctrl-C to stop.\n", devID, profileName)
	if err := run.run(ctx); err != nil {
		fatal(err)
	}
}
