package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sandeepkv93/streaming-identity-core/internal/tools/identityctl"
)

func main() {
	if err := identityctl.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "identityctl:", err)
		os.Exit(1)
	}
}
