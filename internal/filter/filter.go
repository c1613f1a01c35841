// Package filter decides which scanned paths the agent monitors. Rules are
// glob patterns evaluated in order, first match wins; paths matching no
// rule are monitored.
package filter

// Rule represents a single include or exclude pattern.
type Rule struct {
	Pattern *Pattern
	Include bool
}

// Chain holds an ordered list of filter rules.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude adds an exclude rule for the given glob pattern.
func (c *Chain) AddExclude(pattern string) error {
	p, err := Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p, Include: false})
	return nil
}

// AddInclude adds an include rule, typically to carve an exception out of
// a broader exclude that follows it.
func (c *Chain) AddInclude(pattern string) error {
	p, err := Compile(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p, Include: true})
	return nil
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0
}

// Match returns true if the path should be monitored. relPath is relative
// to the scan root; isDir indicates directories, for which an exclude
// prunes the whole subtree.
func (c *Chain) Match(relPath string, isDir bool) bool {
	for _, rule := range c.rules {
		if rule.Pattern.Match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}
