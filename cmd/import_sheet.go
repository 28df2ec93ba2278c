package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/deal-pipeline/internal/sheetimport"
)

var importSheetCmd = &cobra.Command{
	Use:   "import-sheet",
	Short: "Import off-market deals from an analyst workbook",
	Long:  "Reads an XLSX of user-supplied deals and upserts each row as a deal of source manual. Re-importing the same workbook is a no-op.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("catalog"); err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("xlsx")
		sheetName, _ := cmd.Flags().GetString("sheet")
		sheetIndex, _ := cmd.Flags().GetInt("sheet-index")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		im := sheetimport.NewImporter(st, cfg.Workspace.Owners)
		return recordRun(ctx, st, "import-sheet", func() (any, error) {
			res, err := im.ImportFile(ctx, path, sheetimport.ReadOptions{SheetName: sheetName, SheetIndex: sheetIndex})
			if err != nil {
				return nil, err
			}
			fmt.Println(res.String())
			return res, nil
		})
	},
}

func init() {
	importSheetCmd.Flags().String("xlsx", "", "path to the workbook")
	importSheetCmd.Flags().String("sheet", "", "sheet name (default first sheet)")
	importSheetCmd.Flags().Int("sheet-index", 0, "sheet position when --sheet is not given")
	_ = importSheetCmd.MarkFlagRequired("xlsx")
	rootCmd.AddCommand(importSheetCmd)
}
