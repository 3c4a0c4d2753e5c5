package exclusion

// DefaultRules are installed on first start when privacy.seed_default_rules is set.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: KindApplication, Value: "System Preferences", Description: "System settings"},
		{Kind: KindApplication, Value: "1Password", Description: "Password manager"},
		{Kind: KindApplication, Value: "Terminal", Description: "Shell sessions"},
		{Kind: KindWindowTitle, Value: "Bank", Description: "Banking windows"},
		{Kind: KindWindowTitle, Value: "Password", Description: "Password prompts"},
		{Kind: KindWindowTitle, Value: "Private", Description: "Private browsing"},
		{Kind: KindURL, Value: "bank", Description: "Banking sites"},
		{Kind: KindURL, Value: "account", Description: "Account pages"},
		{Kind: KindURL, Value: "password", Description: "Password pages"},
		{Kind: KindPattern, Value: `^https://mail\..*`, Description: "Webmail"},
	}
}
