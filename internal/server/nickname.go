package server

import "math/rand/v2"

// 昵称词库
var (
	nicknameAdjectives = []string{
		"过目不忘的", "眼疾手快的", "记性超好的", "迷迷糊糊的", "神机妙算的",
		"沉着冷静的", "运气爆棚的", "一眼看穿的", "慢条斯理的", "手气不错的",
		"专心致志的", "东张西望的", "胸有成竹的", "若有所思的", "灵光一闪的",
	}

	nicknameNouns = []string{
		"小狗", "小猫", "老鼠", "仓鼠", "兔子",
		"狐狸", "棕熊", "熊猫", "考拉", "老虎",
		"狮子", "青蛙", "猴子", "企鹅", "猫头鹰",
	}
)

// GenerateNickname 生成随机昵称
func GenerateNickname() string {
	return nicknameAdjectives[rand.IntN(len(nicknameAdjectives))] +
		nicknameNouns[rand.IntN(len(nicknameNouns))]
}

// uniqueNickname 生成一个 taken 返回 false 的昵称，多次冲突后使用最后一次结果
func uniqueNickname(taken func(string) bool) string {
	name := GenerateNickname()
	for range 8 {
		if !taken(name) {
			return name
		}
		name = GenerateNickname()
	}
	return name
}
