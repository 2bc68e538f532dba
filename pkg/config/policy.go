package config

// Default command policy lists. They are plain configuration: every list can be
// replaced from settings.yaml under the executor section.
var (
	DefaultAllow = []string{
		"npm", "npx", "yarn", "pnpm", "bun", "node", "deno",
		"python", "python3", "pip", "pip3",
		"ls", "pwd", "cd", "cat", "head", "tail", "echo", "mkdir", "touch",
		"cp", "mv", "rm", "find", "grep", "wc", "tree", "which",
		"git", "tar", "zip", "unzip", "gzip", "curl", "wget",
		"go", "make", "tsc", "vite", "serve",
	}

	DefaultDeny = []string{
		"rm -rf", "rm -fr", "sudo rm", "del /f", "dd if=", "mkfs", "format c:", "> /dev/sd",
	}

	DefaultLongRunning = []string{
		"npm start", "npm run dev", "serve", "python -m http.server", "yarn dev", "vite",
	}

	DefaultInstallPatterns = []string{
		"npm install", "npm i ", "npm ci", "yarn install", "yarn add", "pnpm install", "pip install",
	}

	DefaultBuildPatterns = []string{
		"npm run build", "npm run dev", "git clone", "yarn build",
	}

	DefaultCacheable = []string{
		"ls", "ls -la", "pwd", "cat package.json", "node --version", "npm --version",
	}
)

// Default file placement rules for the materializer
var (
	DefaultRootFiles = []string{"App.css", "index.css", "globals.css"}

	DefaultEntryFiles = []string{
		"src/App.tsx", "src/App.js", "App.tsx", "App.js", "src/index.tsx", "src/index.js",
	}

	DefaultKeptPrefixes = []string{"src/", "public/", "styles/", "package.json"}
)
