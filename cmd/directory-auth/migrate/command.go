package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/directory-auth/internal/business"
	"github.com/openkcm/directory-auth/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Directory Auth migrations",
		"Brings the schema of the configured directory backend up to date",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
