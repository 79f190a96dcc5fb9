package wrap

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"

	"github.com/zirconvm/zircon/log"
)

// Artifact errors.
var (
	ErrArtifactUnavailable = errors.New("wrap: circuit artifacts not installed")
	ErrUnknownProofSystem  = errors.New("wrap: unknown proof system")
)

// ProofSystem selects the outer SNARK backend.
type ProofSystem string

const (
	// Groth16System is the Groth16 backend over BN254.
	Groth16System ProofSystem = "groth16"
	// PlonkSystem is the PLONK backend over BN254.
	PlonkSystem ProofSystem = "plonk"
)

// Artifacts holds the compiled outer circuit and the matching keys for one
// proof system. Exactly one key pair is populated, selected by System.
type Artifacts struct {
	System  ProofSystem
	Version string

	CCS constraint.ConstraintSystem

	Groth16Pk groth16.ProvingKey
	Groth16Vk groth16.VerifyingKey

	PlonkPk plonk.ProvingKey
	PlonkVk plonk.VerifyingKey
}

// Build compiles the outer circuit and runs the trusted setup for the
// given proof system. The PLONK setup draws its SRS from an unsafe local
// ceremony, which is fine for every use except production deployment.
func Build(system ProofSystem) (*Artifacts, error) {
	a := &Artifacts{System: system, Version: CircuitVersion}
	switch system {
	case Groth16System:
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &OuterCircuit{})
		if err != nil {
			return nil, fmt.Errorf("wrap: compile: %w", err)
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			return nil, fmt.Errorf("wrap: groth16 setup: %w", err)
		}
		a.CCS, a.Groth16Pk, a.Groth16Vk = ccs, pk, vk
	case PlonkSystem:
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, &OuterCircuit{})
		if err != nil {
			return nil, fmt.Errorf("wrap: compile: %w", err)
		}
		srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
		if err != nil {
			return nil, fmt.Errorf("wrap: srs: %w", err)
		}
		pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
		if err != nil {
			return nil, fmt.Errorf("wrap: plonk setup: %w", err)
		}
		a.CCS, a.PlonkPk, a.PlonkVk = ccs, pk, vk
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProofSystem, system)
	}
	log.Default().Module("wrap").Info("built circuit artifacts",
		"system", string(system), "version", CircuitVersion, "constraints", a.CCS.GetNbConstraints())
	return a, nil
}

// ArtifactStore persists circuit artifacts on disk, keyed by proof system
// and circuit version.
type ArtifactStore struct {
	dir string
}

// NewArtifactStore creates a store rooted at dir.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

func (s *ArtifactStore) path(system ProofSystem, name string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s", system, CircuitVersion), name)
}

// Save writes the artifacts to the store.
func (s *ArtifactStore) Save(a *Artifacts) error {
	dir := filepath.Dir(s.path(a.System, "circuit.bin"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := map[string]io.WriterTo{"circuit.bin": a.CCS}
	switch a.System {
	case Groth16System:
		files["pk.bin"], files["vk.bin"] = a.Groth16Pk, a.Groth16Vk
	case PlonkSystem:
		files["pk.bin"], files["vk.bin"] = a.PlonkPk, a.PlonkVk
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProofSystem, a.System)
	}
	for name, w := range files {
		if err := writeArtifact(s.path(a.System, name), w); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the artifacts for a proof system from the store. A missing
// artifact set is ErrArtifactUnavailable; proving requires either a prior
// Save or an explicit Build.
func (s *ArtifactStore) Load(system ProofSystem) (*Artifacts, error) {
	switch system {
	case Groth16System, PlonkSystem:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProofSystem, system)
	}
	if _, err := os.Stat(s.path(system, "circuit.bin")); err != nil {
		return nil, fmt.Errorf("%w: %s %s", ErrArtifactUnavailable, system, CircuitVersion)
	}
	a := &Artifacts{System: system, Version: CircuitVersion}
	switch system {
	case Groth16System:
		a.CCS = groth16.NewCS(ecc.BN254)
		a.Groth16Pk = groth16.NewProvingKey(ecc.BN254)
		a.Groth16Vk = groth16.NewVerifyingKey(ecc.BN254)
		if err := readArtifacts(s, system, a.CCS, a.Groth16Pk, a.Groth16Vk); err != nil {
			return nil, err
		}
	case PlonkSystem:
		a.CCS = plonk.NewCS(ecc.BN254)
		a.PlonkPk = plonk.NewProvingKey(ecc.BN254)
		a.PlonkVk = plonk.NewVerifyingKey(ecc.BN254)
		if err := readArtifacts(s, system, a.CCS, a.PlonkPk, a.PlonkVk); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Ensure loads the artifacts, building and saving them on a miss.
func (s *ArtifactStore) Ensure(system ProofSystem) (*Artifacts, error) {
	a, err := s.Load(system)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrArtifactUnavailable) {
		return nil, err
	}
	a, err = Build(system)
	if err != nil {
		return nil, err
	}
	if err := s.Save(a); err != nil {
		return nil, err
	}
	return a, nil
}

func writeArtifact(path string, w io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("wrap: write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func readArtifacts(s *ArtifactStore, system ProofSystem, ccs, pk, vk io.ReaderFrom) error {
	for name, r := range map[string]io.ReaderFrom{"circuit.bin": ccs, "pk.bin": pk, "vk.bin": vk} {
		f, err := os.Open(s.path(system, name))
		if err != nil {
			return fmt.Errorf("%w: %s %s", ErrArtifactUnavailable, system, name)
		}
		_, err = r.ReadFrom(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("wrap: read %s: %w", name, err)
		}
	}
	return nil
}
