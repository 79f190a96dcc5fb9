// Command zircon drives the proving pipeline from the command line.
//
// Usage:
//
//	zircon <command> [flags]
//
// Commands:
//
//	execute    run a guest program without proving
//	prove      run the pipeline and write a proof bundle
//	verify     verify a proof bundle against a program
//	artifacts  build and install outer circuit artifacts
//	serve      run a prover service for network clients
//
// The prover backend is selected by ZIRCON_PROVER (cpu, cuda, network,
// mock); ZIRCON_ENDPOINT and ZIRCON_ARTIFACT_DIR configure the network
// backend and the artifact store.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zirconvm/zircon/log"
	"github.com/zirconvm/zircon/runtime"
	"github.com/zirconvm/zircon/sdk"
	"github.com/zirconvm/zircon/wrap"
)

var version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable entry point, returning an exit code.
func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "execute":
		return cmdExecute(args[1:])
	case "prove":
		return cmdProve(args[1:])
	case "verify":
		return cmdVerify(args[1:])
	case "artifacts":
		return cmdArtifacts(args[1:])
	case "serve":
		return cmdServe(args[1:])
	case "version", "-version", "--version":
		fmt.Printf("zircon %s\n", version)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: zircon <execute|prove|verify|artifacts|serve|version> [flags]")
}

// programFlags are the flags shared by every command that loads a guest.
type programFlags struct {
	program string
	input   string
	startPC uint64
}

func addProgramFlags(fs *flag.FlagSet, pf *programFlags) {
	fs.StringVar(&pf.program, "program", "", "path to the compiled guest program")
	fs.StringVar(&pf.input, "input", "", "guest input, hex encoded")
	fs.Uint64Var(&pf.startPC, "start-pc", 0x1000, "program entry point")
}

func (pf *programFlags) load() ([]byte, *runtime.Stdin, error) {
	if pf.program == "" {
		return nil, nil, fmt.Errorf("-program is required")
	}
	code, err := os.ReadFile(pf.program)
	if err != nil {
		return nil, nil, err
	}
	stdin := runtime.NewStdin()
	if pf.input != "" {
		input, err := hex.DecodeString(pf.input)
		if err != nil {
			return nil, nil, fmt.Errorf("bad -input: %w", err)
		}
		stdin.Write(input)
	}
	return code, stdin, nil
}

func newClient(cycleLimit uint64) (sdk.Prover, error) {
	cfg := sdk.FromEnv()
	if cycleLimit > 0 {
		cfg.MaxCycles = cycleLimit
	}
	return sdk.NewClient(cfg)
}

func cmdExecute(args []string) int {
	fs := flag.NewFlagSet("zircon execute", flag.ContinueOnError)
	var pf programFlags
	addProgramFlags(fs, &pf)
	cycleLimit := fs.Uint64("cycle-limit", 0, "abort past this cycle count (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	code, stdin, err := pf.load()
	if err != nil {
		return fail(err)
	}
	client, err := newClient(*cycleLimit)
	if err != nil {
		return fail(err)
	}
	output, report, err := client.Execute(signalContext(), runtime.NewProgram(code, pf.startPC), stdin)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("cycles:   %d\n", report.TotalCycles)
	fmt.Printf("shards:   %d\n", report.Shards)
	fmt.Printf("deferred: %d\n", report.DeferredProofs)
	fmt.Printf("output:   %x\n", output)
	return 0
}

func cmdProve(args []string) int {
	fs := flag.NewFlagSet("zircon prove", flag.ContinueOnError)
	var pf programFlags
	addProgramFlags(fs, &pf)
	modeName := fs.String("mode", "compressed", "proof mode: core, compressed, plonk, groth16")
	cycleLimit := fs.Uint64("cycle-limit", 0, "abort past this cycle count (0 = unlimited)")
	out := fs.String("out", "proof.bin", "bundle output path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	mode, err := sdk.ParseProofMode(*modeName)
	if err != nil {
		return fail(err)
	}
	code, stdin, err := pf.load()
	if err != nil {
		return fail(err)
	}
	client, err := newClient(*cycleLimit)
	if err != nil {
		return fail(err)
	}

	pk, vk := client.Setup(code, pf.startPC)
	bundle, err := client.Prove(signalContext(), pk, stdin, mode)
	if err != nil {
		return fail(err)
	}
	if err := bundle.Save(*out); err != nil {
		return fail(err)
	}
	log.Info("proof bundle written", "path", *out, "mode", mode.String(), "vkey", vk.Hash())
	return 0
}

func cmdVerify(args []string) int {
	fs := flag.NewFlagSet("zircon verify", flag.ContinueOnError)
	var pf programFlags
	addProgramFlags(fs, &pf)
	bundlePath := fs.String("bundle", "proof.bin", "bundle path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	code, _, err := pf.load()
	if err != nil {
		return fail(err)
	}
	client, err := newClient(0)
	if err != nil {
		return fail(err)
	}
	bundle, err := sdk.LoadBundle(*bundlePath)
	if err != nil {
		return fail(err)
	}
	_, vk := client.Setup(code, pf.startPC)
	if err := client.Verify(bundle, vk); err != nil {
		return fail(err)
	}
	fmt.Printf("ok: %s proof, version %s\n", bundle.Mode, bundle.Version)
	return 0
}

func cmdArtifacts(args []string) int {
	fs := flag.NewFlagSet("zircon artifacts", flag.ContinueOnError)
	system := fs.String("system", "groth16", "proof system: groth16 or plonk")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := sdk.FromEnv()
	store := wrap.NewArtifactStore(cfg.ArtifactDir)
	if _, err := store.Ensure(wrap.ProofSystem(*system)); err != nil {
		return fail(err)
	}
	fmt.Printf("artifacts installed: %s %s in %s\n", *system, wrap.CircuitVersion, cfg.ArtifactDir)
	return 0
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("zircon serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8090", "listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := sdk.FromEnv()
	// The server proves locally regardless of how its own clients are
	// configured.
	if cfg.Backend == sdk.BackendNetwork {
		cfg.Backend = sdk.BackendCPU
	}
	backend, err := sdk.NewClient(cfg)
	if err != nil {
		return fail(err)
	}

	srv := &http.Server{Addr: *addr, Handler: sdk.NewProverServer(backend)}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("prover service listening", "addr", *addr, "backend", string(cfg.Backend))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fail(err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		srv.Shutdown(context.Background())
	}
	return 0
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, stop := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		stop()
	}()
	return ctx
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "zircon: %v\n", err)
	return 1
}
