package secrets

import (
	"fmt"
	"os"
)

// ExportToEnv unseals every credential in the vault and sets it as a
// process environment variable under name, letting strategies keep
// reading credentials the ordinary os.Getenv way (the teacher's own
// acquisition code never takes a credential as a typed parameter; it
// reads the ambient environment). Call once at startup, before any
// acquisition strategy runs, then discard the vault's in-memory
// copy — os.Setenv keeps the value available to subprocesses (e.g. the
// git strategy's exec.Command) without holding a second copy in this
// package's own state.
func (v *Vault) ExportToEnv() error {
	for _, name := range v.Names() {
		value, ok, err := v.Get(name)
		if err != nil {
			return fmt.Errorf("secrets: export %s: %w", name, err)
		}
		if !ok {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("secrets: setenv %s: %w", name, err)
		}
	}
	return nil
}
