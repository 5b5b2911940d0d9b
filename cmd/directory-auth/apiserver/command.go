package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/directory-auth/internal/business"
	"github.com/openkcm/directory-auth/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"api-server",
		"Directory Auth API server",
		"Directory Auth API server hosts the public login API and, when enabled, the private registration API",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
