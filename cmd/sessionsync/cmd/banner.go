package cmd

import (
	"fmt"
)

const banner = `
                       _                                
  ___  ___  ___ ___(_) ___  _ __  ___ _   _ _ __   ___ 
 / __|/ _ \/ __/ __| |/ _ \| '_ \/ __| | | | '_ \ / __|
 \__ \  __/\__ \__ \ | (_) | | | \__ \ |_| | | | | (__ 
 |___/\___||___/___/_|\___/|_| |_|___/\__, |_| |_|\___|
                                      |___/            
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  OAuth Redirect Bridge - Version %s\x1b[0m\n\n", Version)
}
