package banner

import (
	"fmt"
)

const banner = `
██╗███╗   ██╗██████╗  ██████╗ ██╗  ██╗██████╗
██║████╗  ██║██╔══██╗██╔═══██╗╚██╗██╔╝██╔══██╗
██║██╔██╗ ██║██████╔╝██║   ██║ ╚███╔╝ ██║  ██║
██║██║╚██╗██║██╔══██╗██║   ██║ ██╔██╗ ██║  ██║
██║██║ ╚████║██████╔╝╚██████╔╝██╔╝ ██╗██████╔╝
╚═╝╚═╝  ╚═══╝╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═════╝
`

// Print writes the startup banner with the effective listen address, DB
// path, config sources and version.
func Print(addr, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/users - Create a user (JSON: username)")
	fmt.Println("POST /v1/messages - Send a message (JSON: sender, receiver, content, parent)")
	fmt.Println("GET  /v1/messages/{id}/thread - Full conversation for a message")
	fmt.Println("GET  /v1/users/{id}/unread - Unread message count")
	fmt.Println("GET  /v1/users/{id}/notifications - Notification feed")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/users' -d '{\"username\":\"alice\"}'\n", addr)
	fmt.Printf("curl -X POST 'http://localhost%s/v1/messages' -d '{\"sender\":\"<id>\",\"receiver\":\"<id>\",\"content\":\"hello\"}'\n", addr)
	fmt.Println("\n== Production? =================================================")
	fmt.Println("Set a proper storage path (--db)")
	fmt.Println("Put a reverse proxy with authentication in front for production use")
}
