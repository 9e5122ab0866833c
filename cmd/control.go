package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	chargerName string
	valueFlag   int
	kmFlag      float64
	apiAddr     string
)

const defaultAPIAddr = "http://localhost:8080"

// API response types
type apiStatusResponse struct {
	Name            string                 `json:"name"`
	Host            string                 `json:"host"`
	Available       bool                   `json:"available"`
	Fields          map[string]interface{} `json:"fields"`
	ChargeKm        *float64               `json:"charge_km"`
	ChargeStateText string                 `json:"charge_state_text"`
	ChargeTimeText  string                 `json:"charge_time_text"`
	KmToCharge      float64                `json:"km_to_charge"`
	MaxPrice        float64                `json:"max_price"`
	PvpcEnabled     bool                   `json:"pvpc_enabled"`
}

type apiSuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error string `json:"error"`
}

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Control charger operations",
	Long:  `Send control commands to configured chargers.`,
}

var statusCmd = &cobra.Command{
	Use:   "status [charger-name]",
	Short: "Get charger status",
	Long:  `Display the current status of a charger or all chargers.`,
	RunE:  getStatus,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause charging",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction("pause")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume charging",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction("resume")
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the charger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction("lock")
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the charger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction("unlock")
	},
}

var setIntensityCmd = &cobra.Command{
	Use:   "set-intensity",
	Short: "Set the charging intensity",
	Long:  `Set the charging intensity in Amperes (6-32).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return putValue("intensity", valueFlag)
	},
}

var setTargetCmd = &cobra.Command{
	Use:   "set-target",
	Short: "Set the distance target",
	Long:  `Set the kilometres-to-charge target. Charging pauses automatically once the added range reaches it.`,
	RunE:  setTarget,
}

func init() {
	rootCmd.AddCommand(controlCmd)

	controlCmd.AddCommand(statusCmd)
	controlCmd.AddCommand(pauseCmd)
	controlCmd.AddCommand(resumeCmd)
	controlCmd.AddCommand(lockCmd)
	controlCmd.AddCommand(unlockCmd)
	controlCmd.AddCommand(setIntensityCmd)
	controlCmd.AddCommand(setTargetCmd)

	// Add global API address flag
	controlCmd.PersistentFlags().StringVar(&apiAddr, "api", defaultAPIAddr, "API server address")

	statusCmd.Flags().StringVarP(&chargerName, "charger", "c", "", "charger name (optional, shows all if not specified)")

	for _, c := range []*cobra.Command{pauseCmd, resumeCmd, lockCmd, unlockCmd, setIntensityCmd, setTargetCmd} {
		c.Flags().StringVarP(&chargerName, "charger", "c", "", "charger name (required)")
		c.MarkFlagRequired("charger")
	}

	setIntensityCmd.Flags().IntVarP(&valueFlag, "amps", "a", 0, "intensity in Amperes (required)")
	setIntensityCmd.MarkFlagRequired("amps")

	setTargetCmd.Flags().Float64VarP(&kmFlag, "km", "k", 0, "kilometres to charge (required, 0 disables)")
	setTargetCmd.MarkFlagRequired("km")
}

func getStatus(cmd *cobra.Command, args []string) error {
	var url string
	if chargerName != "" {
		url = fmt.Sprintf("%s/api/chargers/%s/status", apiAddr, chargerName)
	} else {
		url = fmt.Sprintf("%s/api/chargers", apiAddr)
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to API server: %w\nMake sure the service is running with: v2c-trydant run", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			return fmt.Errorf("API error: %s", errResp.Error)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAVAILABLE\tSTATE\tRANGE\tTARGET\tPVPC")
	fmt.Fprintln(w, "----\t---------\t-----\t-----\t------\t----")

	if chargerName != "" {
		// Single charger
		var status apiStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		printChargerStatus(w, status)
	} else {
		// All chargers
		var statuses []apiStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		for _, status := range statuses {
			printChargerStatus(w, status)
		}
	}

	w.Flush()
	return nil
}

func printChargerStatus(w *tabwriter.Writer, status apiStatusResponse) {
	available := color.RedString("No")
	if status.Available {
		available = color.GreenString("Yes")
	}

	rangeKm := "-"
	if status.ChargeKm != nil {
		rangeKm = fmt.Sprintf("%.2f km", *status.ChargeKm)
	}

	target := "-"
	if status.KmToCharge > 0 {
		target = fmt.Sprintf("%.0f km", status.KmToCharge)
	}

	pvpcState := "off"
	if status.PvpcEnabled {
		pvpcState = fmt.Sprintf("on (max %.3f)", status.MaxPrice)
	}

	state := status.ChargeStateText
	if state == "" {
		state = "-"
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		status.Name,
		available,
		state,
		rangeKm,
		target,
		pvpcState,
	)
}

func postAction(action string) error {
	url := fmt.Sprintf("%s/api/chargers/%s/%s", apiAddr, chargerName, action)

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to API server: %w\nMake sure the service is running with: v2c-trydant run", err)
	}
	defer resp.Body.Close()

	return printResult(resp)
}

func putValue(action string, value int) error {
	url := fmt.Sprintf("%s/api/chargers/%s/%s", apiAddr, chargerName, action)

	jsonData, err := json.Marshal(map[string]int{"value": value})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to connect to API server: %w\nMake sure the service is running with: v2c-trydant run", err)
	}
	defer resp.Body.Close()

	return printResult(resp)
}

func setTarget(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/chargers/%s/target", apiAddr, chargerName)

	jsonData, err := json.Marshal(map[string]float64{"km_to_charge": kmFlag})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to connect to API server: %w\nMake sure the service is running with: v2c-trydant run", err)
	}
	defer resp.Body.Close()

	return printResult(resp)
}

func printResult(resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("API error: %s", errResp.Error)
		}
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var successResp apiSuccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&successResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("%s %s\n", color.GreenString("✓"), successResp.Message)
	return nil
}
