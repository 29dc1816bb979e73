package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/annel0/inventory-grid/internal/app"
	"github.com/annel0/inventory-grid/internal/config"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/storage"
	"github.com/annel0/inventory-grid/internal/vec"
)

// cli хранит общее состояние команд после PersistentPreRunE
type cli struct {
	configPath string
	verbose    bool

	cfg     *config.Config
	catalog *inventory.Catalog
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "gridctl",
		Short:         "Инструменты для сеток инвентарей",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "путь к YAML конфигурации (или INVENTORY_CONFIG)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "подробный лог")

	root.AddCommand(c.itemsCmd())
	root.AddCommand(c.listCmd())
	root.AddCommand(c.inspectCmd())
	root.AddCommand(c.deleteCmd())
	root.AddCommand(c.simulateCmd())
	return root
}

func (c *cli) load(logOut io.Writer) error {
	level := logging.WARN
	if c.verbose {
		level = logging.DEBUG
	}
	if err := logging.Init(logging.Options{ConsoleLevel: level, Output: logOut}); err != nil {
		return err
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}
	c.cfg, c.catalog = cfg, catalog
	return nil
}

func (c *cli) openRepo(cmd *cobra.Command) (storage.SnapshotRepo, error) {
	return storage.Open(cmd.Context(), c.cfg.Storage.Options())
}

func (c *cli) itemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "Показать каталог предметов",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, item := range c.catalog.All() {
				size := item.Footprint().Size()
				fmt.Fprintf(out, "%-16s %-20s %dx%d stack=%d\n", item.ID, item.Name, size.X, size.Y, item.MaxStack())
				for _, row := range item.Footprint().Rows() {
					fmt.Fprintf(out, "    %s\n", row)
				}
			}
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Перечислить сохранённые инвентари",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			ids, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func (c *cli) inspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <id>",
		Short: "Восстановить инвентарь из хранилища и показать сетку",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			rec, err := repo.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			svc, report, err := app.RestoreInventoryService(rec, c.catalog, c.cfg.Grid.EventLogSize)
			if err != nil {
				return err
			}
			defer svc.Close()

			view := svc.View()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			printView(cmd.OutOrStdout(), view)
			fmt.Fprintf(cmd.OutOrStdout(), "сохранён: %s, восстановлено %d, переразмещено %d, не поместилось %d\n",
				rec.SavedAt.Format("2006-01-02 15:04:05"), report.Restored, report.Replaced, report.Dropped)
			return svc.CheckConsistency()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "вывод в JSON")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Удалить сохранённый инвентарь",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := c.openRepo(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "удалён %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) simulateCmd() *cobra.Command {
	var (
		width, height int
		rotate        []string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "simulate <item[xN]>...",
		Short: "Разложить предметы по пустой сетке и показать результат",
		Example: `  gridctl simulate sword potionx7 boomerang
  gridctl simulate --width 4 --height 3 --rotate 1:1 sword`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size := c.cfg.Grid.GridSize()
			if width > 0 {
				size.X = width
			}
			if height > 0 {
				size.Y = height
			}

			svc := app.NewInventoryService("simulation", size, c.catalog, c.cfg.Grid.EventLogSize)
			defer svc.Close()

			for _, arg := range args {
				itemID, copies, err := parseItemArg(arg)
				if err != nil {
					return err
				}
				if _, err := svc.AddItem(itemID, copies); err != nil {
					return err
				}
			}
			for _, s := range rotate {
				key, err := inventory.ParseKey(s)
				if err != nil {
					return err
				}
				if err := svc.RotateItem(key); err != nil {
					return fmt.Errorf("поворот %s: %w", key, err)
				}
			}

			view := svc.View()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			printView(cmd.OutOrStdout(), view)
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "ширина сетки (по умолчанию из конфигурации)")
	cmd.Flags().IntVar(&height, "height", 0, "высота сетки (по умолчанию из конфигурации)")
	cmd.Flags().StringSliceVar(&rotate, "rotate", nil, "повернуть стопки после раскладки (ключи entry:stack)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "вывод в JSON")
	return cmd
}

// parseItemArg разбирает "potion" или "potionx7"
func parseItemArg(arg string) (inventory.ItemID, int, error) {
	if i := strings.LastIndex(arg, "x"); i > 0 && i < len(arg)-1 {
		if n, err := strconv.Atoi(arg[i+1:]); err == nil {
			if n <= 0 {
				return "", 0, fmt.Errorf("%s: количество должно быть положительным", arg)
			}
			return inventory.ItemID(arg[:i]), n, nil
		}
	}
	return inventory.ItemID(arg), 1, nil
}

func printView(out io.Writer, view app.InventoryView) {
	fmt.Fprintf(out, "%s %v, занято %d из %d\n", view.ID, view.Size, view.Occupied, view.Size.X*view.Size.Y)
	fmt.Fprint(out, view.Render)
	if !strings.HasSuffix(view.Render, "\n") {
		fmt.Fprintln(out)
	}
	for _, it := range view.Items {
		fmt.Fprintf(out, "  %-6s %-16s x%-3d at %v %v\n", it.Key, it.ItemID, it.Copies, it.Placement.Origin, sizeString(it.Size))
	}
}

func sizeString(v vec.Vec2) string { return fmt.Sprintf("%dx%d", v.X, v.Y) }

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
