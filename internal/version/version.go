// 包 version：构建信息，由构建脚本通过 -ldflags 注入
package version

// Commit：构建时的 git 提交哈希，默认 dev
var Commit = "dev"
