package main

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energymon-server/energymon-server/internal/compression"
	"github.com/energymon-server/energymon-server/internal/ota"
	"github.com/energymon-server/energymon-server/internal/security"
)

// frame-tool builds and inspects the binary artifacts devices exchange
// with the server: secured envelopes, compressed telemetry frames and
// corrupted firmware chunks for end-to-end fault testing.

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "envelope":
		err = cmdEnvelope(os.Args[2:])
	case "bitpack":
		err = cmdBitPack(os.Args[2:])
	case "decode":
		err = cmdDecode(os.Args[2:])
	case "corrupt":
		err = cmdCorrupt(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: frame-tool <command> [flags]

Commands:
  envelope   build a secured envelope around a payload
  bitpack    encode uint16 samples as a bit-packed frame
  decode     decode a binary telemetry frame
  corrupt    flip a bit in a firmware chunk file`)
}

// cmdEnvelope builds a signed (optionally encrypted) envelope and
// prints it as JSON ready to POST to an ingress endpoint.
func cmdEnvelope(args []string) error {
	fs := flag.NewFlagSet("envelope", flag.ExitOnError)
	deviceID := fs.String("device", "", "device identifier")
	hmacKey := fs.String("hmac-key", "", "HMAC key")
	aesKey := fs.String("aes-key", "", "AES-128 key (16 bytes, enables encryption)")
	aesIV := fs.String("aes-iv", "", "AES IV (16 bytes)")
	payload := fs.String("payload", "", "plaintext payload")
	fs.Parse(args)

	if *deviceID == "" || *hmacKey == "" || *payload == "" {
		return fmt.Errorf("device, hmac-key and payload are required")
	}

	encrypt := *aesKey != ""
	verifier := security.NewVerifier(security.NewNonceStore(),
		[]byte(*hmacKey), []byte(*aesKey), []byte(*aesIV))

	env, err := verifier.Create([]byte(*payload), *deviceID, encrypt)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}

// cmdBitPack encodes comma-separated samples as a bit-packed frame
func cmdBitPack(args []string) error {
	fs := flag.NewFlagSet("bitpack", flag.ExitOnError)
	valuesArg := fs.String("values", "", "comma-separated uint16 samples")
	bits := fs.Int("bits", 12, "bits per sample (1-16)")
	b64 := fs.Bool("base64", false, "print base64 instead of hex")
	fs.Parse(args)

	if *valuesArg == "" {
		return fmt.Errorf("values are required")
	}

	var values []uint16
	for _, field := range strings.Split(*valuesArg, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(field), 10, 16)
		if err != nil {
			return fmt.Errorf("parse sample %q: %w", field, err)
		}
		values = append(values, uint16(n))
	}

	frame, err := compression.EncodeBitPacked(values, *bits)
	if err != nil {
		return err
	}

	if *b64 {
		fmt.Println(base64.StdEncoding.EncodeToString(frame))
	} else {
		fmt.Println(hex.EncodeToString(frame))
	}
	return nil
}

// cmdDecode decodes a hex or base64 telemetry frame
func cmdDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	frameArg := fs.String("frame", "", "frame as hex (or base64 with -base64)")
	b64 := fs.Bool("base64", false, "frame is base64")
	deviceID := fs.String("device", "frame-tool", "device identifier for stateful formats")
	fs.Parse(args)

	if *frameArg == "" {
		return fmt.Errorf("frame is required")
	}

	var frame []byte
	var err error
	if *b64 {
		frame, err = base64.StdEncoding.DecodeString(*frameArg)
	} else {
		frame, err = hex.DecodeString(*frameArg)
	}
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	codec := compression.NewCodec(compression.NewTemporalStateStore())
	values, stats, err := codec.Decode(frame, *deviceID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"values": values,
		"stats":  stats,
	}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}

// cmdCorrupt runs a chunk file through the bit-flip injector, for
// exercising device-side hash verification against a real image.
func cmdCorrupt(args []string) error {
	fs := flag.NewFlagSet("corrupt", flag.ExitOnError)
	file := fs.String("file", "", "chunk file to corrupt")
	out := fs.String("out", "", "output file (default: overwrite input)")
	rate := fs.Float64("rate", 1.0, "corruption probability")
	seed := fs.Int64("seed", 1, "rng seed")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("file is required")
	}

	chunk, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	injector := ota.NewBitFlipInjector(*rate, *seed)
	corrupted := injector.CorruptChunk("frame-tool", 0, chunk)

	target := *out
	if target == "" {
		target = *file
	}

	if err := os.WriteFile(target, corrupted, 0644); err != nil {
		return err
	}

	log.Info().Str("file", target).Int("bytes", len(corrupted)).Msg("Chunk written")
	return nil
}
