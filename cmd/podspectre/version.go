package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/podspectre/internal/reconcile"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
			cmd.Printf("go: %s\n", runtime.Version())
			cmd.Printf("platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)

			engine := "available"
			if err := reconcile.Probe(cmd.Context(), reconcile.NewAccelerated()); err != nil {
				engine = "unavailable (" + err.Error() + ")"
			}
			cmd.Printf("accelerated engine: %s\n", engine)
		},
	}
}
