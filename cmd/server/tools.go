package main

import (
	"encoding/json"
	"os"

	"github.com/jrsteele09/go-ehr-connect/endpoints"
	"github.com/jrsteele09/go-ehr-connect/internal/config"
	"github.com/jrsteele09/go-ehr-connect/pkce"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <fhirBase>",
	Short: "Print the authorization endpoints chosen for a FHIR base URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := config.New()
		res, err := endpoints.NewDefaultResolver(c.GetIssuer(), c.GetOAuth2PathHosts()...).Resolve(args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"strategy":          res.Strategy,
			"authorizeEndpoint": res.AuthURL(),
			"tokenEndpoint":     res.TokenURL(),
		})
	},
}

var pkceCmd = &cobra.Command{
	Use:   "pkce",
	Short: "Generate a PKCE verifier, challenge, state and nonce",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := pkce.Generate()
		if err != nil {
			return err
		}
		return printJSON(params)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd, pkceCmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
