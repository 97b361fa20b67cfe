package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type client struct {
	baseURL  string
	adminKey string
	http     *http.Client
}

func (c *client) post(path string, payload map[string]interface{}) (map[string]interface{}, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["admin_key"] = c.adminKey

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("bad response: %w", err)
	}
	if success, _ := decoded["success"].(bool); !success {
		msg, _ := decoded["message"].(string)
		return decoded, fmt.Errorf("server refused: %s", msg)
	}
	return decoded, nil
}

func main() {
	baseURL := os.Getenv("LICENSE_SERVER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	adminKey := os.Getenv("ADMIN_KEY")
	if adminKey == "" {
		fmt.Println("ADMIN_KEY environment variable is required")
		os.Exit(1)
	}

	c := &client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		adminKey: adminKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}

	fmt.Println("========================================")
	fmt.Println(" License Administration Tool")
	fmt.Printf(" Server: %s\n", c.baseURL)
	fmt.Println("========================================")

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Create license")
		fmt.Println("  2. List licenses")
		fmt.Println("  3. Extend license")
		fmt.Println("  4. Create user")
		fmt.Println("  5. List users")
		fmt.Println("  6. Extend user subscription")
		fmt.Println("  7. Enable/disable user")
		fmt.Println("  8. Show stats")
		fmt.Println("  9. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			createLicense(c, reader)
		case "2":
			listLicenses(c)
		case "3":
			extendLicense(c, reader)
		case "4":
			createUser(c, reader)
		case "5":
			listUsers(c)
		case "6":
			extendUserSubscription(c, reader)
		case "7":
			setUserActive(c, reader)
		case "8":
			showStats(c)
		case "9":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptInt(reader *bufio.Reader, label string, fallback int) int {
	input := prompt(reader, label)
	if input == "" {
		return fallback
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		fmt.Printf("Not a number, using %d\n", fallback)
		return fallback
	}
	return n
}

func promptFloat(reader *bufio.Reader, label string) float64 {
	input := prompt(reader, label)
	if input == "" {
		return 0
	}
	f, err := strconv.ParseFloat(input, 64)
	if err != nil {
		fmt.Println("Not a number, using 0")
		return 0
	}
	return f
}

func createLicense(c *client, reader *bufio.Reader) {
	fmt.Println("\n--- Create License ---")
	name := prompt(reader, "Customer name: ")
	email := prompt(reader, "Customer email: ")
	days := promptInt(reader, "Duration days [30]: ", 30)

	resp, err := c.post("/api/create_license", map[string]interface{}{
		"customer_name":  name,
		"customer_email": email,
		"duration_days":  days,
	})
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  License Key: %s\n", resp["license_key"])
	fmt.Printf("  Expires:     %s\n", resp["expiry_date"])
	fmt.Println("========================================")
}

func listLicenses(c *client) {
	resp, err := c.post("/api/list_licenses", nil)
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}

	licenses, _ := resp["licenses"].([]interface{})
	fmt.Printf("\n%-18s %-20s %-12s %-8s %-6s\n", "KEY", "CUSTOMER", "EXPIRES", "ACTIVE", "RUNS")
	fmt.Println(strings.Repeat("-", 70))
	for _, item := range licenses {
		lic, _ := item.(map[string]interface{})
		if lic == nil {
			continue
		}
		expiry, _ := lic["expiry_date"].(string)
		if len(expiry) >= 10 {
			expiry = expiry[:10]
		}
		fmt.Printf("%-18v %-20v %-12s %-8v %-6v\n",
			lic["license_key"], lic["customer_name"], expiry, lic["is_active"], lic["run_count"])
	}
	fmt.Printf("\nTotal: %v\n", resp["count"])
}

func extendLicense(c *client, reader *bufio.Reader) {
	fmt.Println("\n--- Extend License ---")
	key := prompt(reader, "License key: ")
	days := promptInt(reader, "Period days [30]: ", 30)
	amount := promptFloat(reader, "Payment amount: ")

	resp, err := c.post("/api/extend_license", map[string]interface{}{
		"license_key": key,
		"period_days": days,
		"amount":      amount,
	})
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}
	fmt.Printf("New expiry: %s\n", resp["expiry_date"])
}

func createUser(c *client, reader *bufio.Reader) {
	fmt.Println("\n--- Create User ---")
	userID := prompt(reader, "User id: ")
	password := prompt(reader, "Password: ")
	name := prompt(reader, "Name: ")
	email := prompt(reader, "Email: ")

	_, err := c.post("/api/create_user", map[string]interface{}{
		"user_id":  userID,
		"password": password,
		"name":     name,
		"email":    email,
	})
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}
	fmt.Printf("User %s created and activated\n", userID)
}

func listUsers(c *client) {
	resp, err := c.post("/api/list_users", nil)
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}

	users, _ := resp["users"].([]interface{})
	fmt.Printf("\n%-14s %-20s %-12s %-8s %-6s\n", "USER", "NAME", "EXPIRES", "ACTIVE", "RUNS")
	fmt.Println(strings.Repeat("-", 64))
	for _, item := range users {
		user, _ := item.(map[string]interface{})
		if user == nil {
			continue
		}
		expiry, _ := user["expiry_date"].(string)
		if len(expiry) >= 10 {
			expiry = expiry[:10]
		}
		if expiry == "" {
			expiry = "-"
		}
		fmt.Printf("%-14v %-20v %-12s %-8v %-6v\n",
			user["user_id"], user["name"], expiry, user["is_active"], user["run_count"])
	}
	fmt.Printf("\nTotal: %v\n", resp["count"])
}

func extendUserSubscription(c *client, reader *bufio.Reader) {
	fmt.Println("\n--- Extend User Subscription ---")
	userID := prompt(reader, "User id: ")
	days := promptInt(reader, "Period days [30]: ", 30)
	amount := promptFloat(reader, "Payment amount: ")
	note := prompt(reader, "Note: ")

	resp, err := c.post("/api/extend_user_subscription", map[string]interface{}{
		"user_id":     userID,
		"period_days": days,
		"amount":      amount,
		"note":        note,
	})
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}
	fmt.Printf("New expiry: %s\n", resp["expiry_date"])
}

func setUserActive(c *client, reader *bufio.Reader) {
	fmt.Println("\n--- Enable/Disable User ---")
	userID := prompt(reader, "User id: ")
	answer := prompt(reader, "Active? (y/n): ")
	active := strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")

	_, err := c.post("/api/set_user_active", map[string]interface{}{
		"user_id": userID,
		"active":  active,
	})
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}
	fmt.Printf("User %s active=%v\n", userID, active)
}

func showStats(c *client) {
	resp, err := c.post("/api/stats", nil)
	if err != nil {
		fmt.Printf("Failed: %v\n", err)
		return
	}

	stats, _ := resp["stats"].(map[string]interface{})
	fmt.Println("\n========================================")
	fmt.Printf("  Licenses: %v total, %v active, %v expired\n",
		stats["total_licenses"], stats["active_licenses"], stats["expired_licenses"])
	fmt.Printf("  Users:    %v total, %v active\n", stats["total_users"], stats["active_users"])
	fmt.Printf("  Revenue:  %.2f\n", toFloat(stats["total_revenue"]))
	fmt.Println("========================================")
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
