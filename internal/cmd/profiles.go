package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/halfdome/xhci/internal/hcsim"
)

// Profiles lists the built-in device profiles or dumps one as YAML,
// ready to be copied into a profile file and edited.
type Profiles struct {
	Dump string `help:"Print the named built-in profile as YAML" optional:""`
}

// Run is called by Kong when the profiles command is executed.
func (p *Profiles) Run(logger *slog.Logger) error {
	if p.Dump != "" {
		for _, b := range hcsim.Builtins() {
			if b.Name == p.Dump {
				out, err := yaml.Marshal(b)
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(out)
				return err
			}
		}
		return fmt.Errorf("no built-in profile named %q", p.Dump)
	}

	for _, b := range hcsim.Builtins() {
		fmt.Printf("%-14s %04x:%04x %s-speed, %d interface(s)\n",
			b.Name, b.VendorID, b.ProductID, b.Speed, len(b.Interfaces))
	}
	return nil
}
